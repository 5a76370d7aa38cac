package handler_test

import (
	"context"

	"inviteledger.app/tracker/internal/model"
)

type mockLedgerService struct {
	readFn        func(ctx context.Context, m model.Member) (model.InviteLedger, error)
	getCreditFn   func(ctx context.Context, m model.Member) (model.Inviter, error)
	addBonusFn    func(ctx context.Context, m model.Member, n int) (model.InviteLedger, error)
	removeBonusFn func(ctx context.Context, m model.Member, n int) (model.InviteLedger, error)
}

func (m *mockLedgerService) Read(ctx context.Context, member model.Member) (model.InviteLedger, error) {
	if m.readFn != nil {
		return m.readFn(ctx, member)
	}
	return model.NewInviteLedger(), nil
}

func (m *mockLedgerService) GetCredit(ctx context.Context, member model.Member) (model.Inviter, error) {
	if m.getCreditFn != nil {
		return m.getCreditFn(ctx, member)
	}
	return model.UnknownInviter(), nil
}

func (m *mockLedgerService) AddBonus(ctx context.Context, member model.Member, n int) (model.InviteLedger, error) {
	if m.addBonusFn != nil {
		return m.addBonusFn(ctx, member, n)
	}
	return model.NewInviteLedger(), nil
}

func (m *mockLedgerService) RemoveBonus(ctx context.Context, member model.Member, n int) (model.InviteLedger, error) {
	if m.removeBonusFn != nil {
		return m.removeBonusFn(ctx, member, n)
	}
	return model.NewInviteLedger(), nil
}

type mockPurger struct {
	purgeFn func(ctx context.Context, m model.Member) (model.InviteLedger, error)
}

func (m *mockPurger) Purge(ctx context.Context, member model.Member) (model.InviteLedger, error) {
	if m.purgeFn != nil {
		return m.purgeFn(ctx, member)
	}
	return model.NewInviteLedger(), nil
}
