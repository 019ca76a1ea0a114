package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SplitShares divides total across bookings proportionally to passenger counts.
// Each share is rounded to two decimals on its own, so the shares may not add
// back up to total.
func SplitShares(total Amount, passengerCounts []int) ([]decimal.Decimal, error) {
	passengerSum := 0
	for _, count := range passengerCounts {
		if count < 0 {
			return nil, fmt.Errorf("%w: negative passenger count", ErrInvalidGroupMembers)
		}
		passengerSum += count
	}
	if passengerSum == 0 {
		return nil, fmt.Errorf("%w: no passengers to split across", ErrInvalidGroupMembers)
	}
	perPassenger := total.Decimal().Div(decimal.NewFromInt(int64(passengerSum)))
	shares := make([]decimal.Decimal, len(passengerCounts))
	for index, count := range passengerCounts {
		shares[index] = perPassenger.Mul(decimal.NewFromInt(int64(count))).Round(amountScale)
	}
	return shares, nil
}

// SplitInput charges one payment across group members.
// Empty BookingIDs selects every member of the group.
type SplitInput struct {
	GroupID         GroupID
	BookingIDs      []BookingID
	TotalAmount     Amount
	BookedBy        string
	AccountUsername Username
	Method          PaymentMethod
}

// SplitAndRecord computes passenger-proportional shares and upserts one record
// per booking, each in its own transaction. It stops at the first failure and
// returns a PartialFailureError when earlier members already succeeded.
func (service *Service) SplitAndRecord(ctx context.Context, input SplitInput) ([]BookingRecord, error) {
	records, operationError := service.splitAndRecord(ctx, input)
	service.logOperation(ctx, OperationLog{
		Operation: operationSplitAndRecord,
		Username:  input.AccountUsername,
		GroupID:   input.GroupID,
		Amount:    sumRecordAmounts(records),
		Error:     operationError,
	})
	return records, operationError
}

func (service *Service) splitAndRecord(ctx context.Context, input SplitInput) ([]BookingRecord, error) {
	group, err := service.store.GetGroup(ctx, input.GroupID)
	if err != nil {
		return nil, err
	}
	selected := input.BookingIDs
	if len(selected) == 0 {
		selected = group.BookingIDs
	}
	bookings := make([]Booking, 0, len(selected))
	passengerCounts := make([]int, 0, len(selected))
	for _, bookingID := range selected {
		if !group.Contains(bookingID) {
			return nil, fmt.Errorf("%w: %s", ErrBookingNotInGroup, bookingID.String())
		}
		booking, err := service.store.GetBooking(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
		passengerCounts = append(passengerCounts, booking.PassengerCount())
	}
	shares, err := SplitShares(input.TotalAmount, passengerCounts)
	if err != nil {
		return nil, err
	}

	records := make([]BookingRecord, 0, len(bookings))
	succeeded := make([]BookingID, 0, len(bookings))
	for index, booking := range bookings {
		share, err := NewAmount(shares[index])
		if err != nil {
			return nil, err
		}
		var record BookingRecord
		memberError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			var err error
			record, err = service.upsertRecord(ctx, transactionStore, RecordInput{
				BookingID:       booking.ID,
				BookedBy:        input.BookedBy,
				AccountUsername: input.AccountUsername,
				AmountCharged:   share,
				Method:          input.Method,
			})
			return err
		})
		if memberError != nil {
			if len(succeeded) == 0 {
				return nil, memberError
			}
			skipped := make([]BookingID, 0, len(bookings)-index-1)
			for _, rest := range bookings[index+1:] {
				skipped = append(skipped, rest.ID)
			}
			return records, &PartialFailureError{
				Succeeded: succeeded,
				Failed:    booking.ID,
				Skipped:   skipped,
				Err:       WrapError(errorOperationService, errorSubjectGroup, errorCodeMember, memberError),
			}
		}
		records = append(records, record)
		succeeded = append(succeeded, booking.ID)
	}
	return records, nil
}

// UpdateSharedRequirements writes the same prepared account list to every group member.
func (service *Service) UpdateSharedRequirements(ctx context.Context, groupID GroupID, preparedAccounts []string) ([]Booking, error) {
	normalized := normalizePreparedAccounts(preparedAccounts)
	var updated []Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		group, err := transactionStore.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		updated = make([]Booking, 0, len(group.BookingIDs))
		for _, bookingID := range group.BookingIDs {
			booking, err := transactionStore.GetBooking(ctx, bookingID)
			if err != nil {
				return err
			}
			patch := BookingPatch{PreparedAccounts: Set(normalized), UpdatedAt: service.now()}
			if err := transactionStore.UpdateBooking(ctx, bookingID, patch); err != nil {
				return err
			}
			updated = append(updated, patch.ApplyToBooking(booking))
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSharedRequirement,
		GroupID:   groupID,
		Error:     operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return updated, nil
}

// CreateGroup links at least two ungrouped bookings.
func (service *Service) CreateGroup(ctx context.Context, bookingIDs []BookingID) (Group, error) {
	var group Group
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		members := uniqueBookingIDs(bookingIDs)
		if len(members) < minimumGroupMembers {
			return fmt.Errorf("%w: need at least %d bookings", ErrInvalidGroupMembers, minimumGroupMembers)
		}
		for _, bookingID := range members {
			booking, err := transactionStore.GetBooking(ctx, bookingID)
			if err != nil {
				return err
			}
			if !booking.GroupID.IsZero() {
				return fmt.Errorf("%w: %s", ErrBookingAlreadyGrouped, bookingID.String())
			}
		}
		groupID, err := NewGroupID(service.newID())
		if err != nil {
			return err
		}
		now := service.now()
		group = Group{ID: groupID, BookingIDs: members, CreatedAt: now, UpdatedAt: now}
		if err := transactionStore.CreateGroup(ctx, group); err != nil {
			return err
		}
		for _, bookingID := range members {
			if err := transactionStore.UpdateBooking(ctx, bookingID, BookingPatch{GroupID: Set(groupID), UpdatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateGroup,
		GroupID:   group.ID,
		Error:     operationError,
	})
	if operationError != nil {
		return Group{}, operationError
	}
	return group, nil
}

// GetGroup returns the group with its members and a per-status count.
func (service *Service) GetGroup(ctx context.Context, groupID GroupID) (GroupSummary, error) {
	group, err := service.store.GetGroup(ctx, groupID)
	if err != nil {
		return GroupSummary{}, err
	}
	summary := GroupSummary{
		Group:         group,
		Bookings:      make([]Booking, 0, len(group.BookingIDs)),
		StatusSummary: make(map[Status]int),
	}
	for _, bookingID := range group.BookingIDs {
		booking, err := service.store.GetBooking(ctx, bookingID)
		if err != nil {
			return GroupSummary{}, err
		}
		summary.Bookings = append(summary.Bookings, booking)
		summary.StatusSummary[booking.Status]++
	}
	return summary, nil
}

// DissolveGroup detaches every member and deletes the group.
func (service *Service) DissolveGroup(ctx context.Context, groupID GroupID) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		group, err := transactionStore.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		return service.dissolveGroup(ctx, transactionStore, group.ID, group.BookingIDs)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDissolveGroup,
		GroupID:   groupID,
		Error:     operationError,
	})
	return operationError
}

// RemoveFromGroup detaches one booking. A group left with fewer than two
// members is dissolved; the returned group is then zero.
func (service *Service) RemoveFromGroup(ctx context.Context, groupID GroupID, bookingID BookingID) (Group, error) {
	var remaining Group
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		group, err := transactionStore.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if !group.Contains(bookingID) {
			return fmt.Errorf("%w: %s", ErrBookingNotInGroup, bookingID.String())
		}
		if err := transactionStore.UpdateBooking(ctx, bookingID, BookingPatch{GroupID: Clear[GroupID](), UpdatedAt: service.now()}); err != nil {
			return err
		}
		remaining, err = service.detachMember(ctx, transactionStore, group, bookingID)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRemoveFromGroup,
		GroupID:   groupID,
		BookingID: bookingID,
		Error:     operationError,
	})
	if operationError != nil {
		return Group{}, operationError
	}
	return remaining, nil
}

// detachMember drops bookingID from the member list and dissolves the group
// when it falls under the minimum size.
func (service *Service) detachMember(ctx context.Context, transactionStore Store, group Group, bookingID BookingID) (Group, error) {
	members := make([]BookingID, 0, len(group.BookingIDs))
	for _, member := range group.BookingIDs {
		if member != bookingID {
			members = append(members, member)
		}
	}
	if len(members) < minimumGroupMembers {
		return Group{}, service.dissolveGroup(ctx, transactionStore, group.ID, members)
	}
	now := service.now()
	if err := transactionStore.UpdateGroupMembers(ctx, group.ID, members, now); err != nil {
		return Group{}, err
	}
	group.BookingIDs = members
	group.UpdatedAt = now
	return group, nil
}

func (service *Service) dissolveGroup(ctx context.Context, transactionStore Store, groupID GroupID, members []BookingID) error {
	now := service.now()
	for _, bookingID := range members {
		err := transactionStore.UpdateBooking(ctx, bookingID, BookingPatch{GroupID: Clear[GroupID](), UpdatedAt: now})
		if err != nil && !errors.Is(err, ErrBookingNotFound) {
			return err
		}
	}
	return transactionStore.DeleteGroup(ctx, groupID)
}

func uniqueBookingIDs(bookingIDs []BookingID) []BookingID {
	seen := make(map[BookingID]struct{}, len(bookingIDs))
	unique := make([]BookingID, 0, len(bookingIDs))
	for _, bookingID := range bookingIDs {
		if bookingID.String() == "" {
			continue
		}
		if _, duplicate := seen[bookingID]; duplicate {
			continue
		}
		seen[bookingID] = struct{}{}
		unique = append(unique, bookingID)
	}
	return unique
}

func normalizePreparedAccounts(preparedAccounts []string) []string {
	normalized := make([]string, 0, len(preparedAccounts))
	for _, account := range preparedAccounts {
		if trimmed := strings.TrimSpace(account); trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
