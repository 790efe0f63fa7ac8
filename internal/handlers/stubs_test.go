package handlers

import (
	"context"

	domain "github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/services"
)

type stubSessionService struct {
	startFunc         func(ctx context.Context, cmd services.StartSessionCommand) (services.SessionView, error)
	getFunc           func(ctx context.Context, sessionID string) (services.SessionView, error)
	updateAccountFunc func(ctx context.Context, cmd services.UpdateAccountDetailsCommand) (services.SessionView, error)
	selectCardFunc    func(ctx context.Context, cmd services.SelectCreditCardCommand) (services.SessionView, error)
	setAddingCardFunc func(ctx context.Context, sessionID string, adding bool) (services.SessionView, error)
	setCVVFunc        func(ctx context.Context, cmd services.SetCVVCommand) (services.SessionView, error)
	importCartFunc    func(ctx context.Context, cmd services.ImportCartCommand) (services.SessionView, error)
	resetFunc         func(ctx context.Context, sessionID string) (services.SessionView, error)
	setTastingFunc    func(ctx context.Context, sessionID, value string) error
	tastingFunc       func(ctx context.Context, sessionID string) (string, error)
}

func (s *stubSessionService) StartSession(ctx context.Context, cmd services.StartSessionCommand) (services.SessionView, error) {
	return s.startFunc(ctx, cmd)
}

func (s *stubSessionService) GetSession(ctx context.Context, sessionID string) (services.SessionView, error) {
	return s.getFunc(ctx, sessionID)
}

func (s *stubSessionService) UpdateAccountDetails(ctx context.Context, cmd services.UpdateAccountDetailsCommand) (services.SessionView, error) {
	return s.updateAccountFunc(ctx, cmd)
}

func (s *stubSessionService) SelectCreditCard(ctx context.Context, cmd services.SelectCreditCardCommand) (services.SessionView, error) {
	return s.selectCardFunc(ctx, cmd)
}

func (s *stubSessionService) SetAddingCreditCard(ctx context.Context, sessionID string, adding bool) (services.SessionView, error) {
	return s.setAddingCardFunc(ctx, sessionID, adding)
}

func (s *stubSessionService) SetCVV(ctx context.Context, cmd services.SetCVVCommand) (services.SessionView, error) {
	return s.setCVVFunc(ctx, cmd)
}

func (s *stubSessionService) ImportCart(ctx context.Context, cmd services.ImportCartCommand) (services.SessionView, error) {
	return s.importCartFunc(ctx, cmd)
}

func (s *stubSessionService) Reset(ctx context.Context, sessionID string) (services.SessionView, error) {
	return s.resetFunc(ctx, sessionID)
}

func (s *stubSessionService) SetTastingSelection(ctx context.Context, sessionID, value string) error {
	return s.setTastingFunc(ctx, sessionID, value)
}

func (s *stubSessionService) TastingSelection(ctx context.Context, sessionID string) (string, error) {
	return s.tastingFunc(ctx, sessionID)
}

type stubReconcilerService struct {
	listMethodsFunc    func(ctx context.Context, sessionID string) ([]domain.ShippingMethod, error)
	guestAddressFunc   func(ctx context.Context, cmd services.GuestAddressCommand) (services.SessionView, error)
	setAddingFunc      func(ctx context.Context, sessionID string, adding bool) (services.SessionView, error)
	createAddressFunc  func(ctx context.Context, cmd services.CreateAddressCommand) (services.SessionView, error)
	selectAddressFunc  func(ctx context.Context, cmd services.SelectAddressCommand) (services.SessionView, error)
	selectMethodFunc   func(ctx context.Context, cmd services.SelectShippingMethodCommand) (services.SessionView, error)
	pickUpFunc         func(ctx context.Context, cmd services.PickUpOptionCommand) (services.SessionView, error)
	collectPointFunc   func(ctx context.Context, cmd services.CollectPointCommand) (services.SessionView, error)
	accountSnapshotFn  func(ctx context.Context, sessionID string) (domain.AccountSnapshot, error)
}

func (s *stubReconcilerService) ListShippingMethods(ctx context.Context, sessionID string) ([]domain.ShippingMethod, error) {
	return s.listMethodsFunc(ctx, sessionID)
}

func (s *stubReconcilerService) SubmitGuestAddress(ctx context.Context, cmd services.GuestAddressCommand) (services.SessionView, error) {
	return s.guestAddressFunc(ctx, cmd)
}

func (s *stubReconcilerService) SetAddingAddress(ctx context.Context, sessionID string, adding bool) (services.SessionView, error) {
	return s.setAddingFunc(ctx, sessionID, adding)
}

func (s *stubReconcilerService) CreateAddress(ctx context.Context, cmd services.CreateAddressCommand) (services.SessionView, error) {
	return s.createAddressFunc(ctx, cmd)
}

func (s *stubReconcilerService) SelectAddress(ctx context.Context, cmd services.SelectAddressCommand) (services.SessionView, error) {
	return s.selectAddressFunc(ctx, cmd)
}

func (s *stubReconcilerService) SelectShippingMethod(ctx context.Context, cmd services.SelectShippingMethodCommand) (services.SessionView, error) {
	return s.selectMethodFunc(ctx, cmd)
}

func (s *stubReconcilerService) SelectPickUpOption(ctx context.Context, cmd services.PickUpOptionCommand) (services.SessionView, error) {
	return s.pickUpFunc(ctx, cmd)
}

func (s *stubReconcilerService) ConfirmCollectPoint(ctx context.Context, cmd services.CollectPointCommand) (services.SessionView, error) {
	return s.collectPointFunc(ctx, cmd)
}

func (s *stubReconcilerService) AccountSnapshot(ctx context.Context, sessionID string) (domain.AccountSnapshot, error) {
	return s.accountSnapshotFn(ctx, sessionID)
}

type stubGiftMessageService struct {
	openFunc   func(ctx context.Context, sessionID string) (services.SessionView, error)
	cancelFunc func(ctx context.Context, sessionID string) (services.SessionView, error)
	commitFunc func(ctx context.Context, cmd services.CommitGiftMessageCommand) (services.SessionView, error)
	removeFunc func(ctx context.Context, cmd services.RemoveGiftMessageCommand) (services.SessionView, error)
	stateFunc  func(ctx context.Context, sessionID string) (domain.GiftMessageState, *domain.GiftMessage, error)
}

func (s *stubGiftMessageService) Open(ctx context.Context, sessionID string) (services.SessionView, error) {
	return s.openFunc(ctx, sessionID)
}

func (s *stubGiftMessageService) Cancel(ctx context.Context, sessionID string) (services.SessionView, error) {
	return s.cancelFunc(ctx, sessionID)
}

func (s *stubGiftMessageService) Commit(ctx context.Context, cmd services.CommitGiftMessageCommand) (services.SessionView, error) {
	return s.commitFunc(ctx, cmd)
}

func (s *stubGiftMessageService) Remove(ctx context.Context, cmd services.RemoveGiftMessageCommand) (services.SessionView, error) {
	return s.removeFunc(ctx, cmd)
}

func (s *stubGiftMessageService) State(ctx context.Context, sessionID string) (domain.GiftMessageState, *domain.GiftMessage, error) {
	return s.stateFunc(ctx, sessionID)
}

type stubSkyWalletService struct {
	balanceFunc func(ctx context.Context, sessionID string) (domain.SkyWalletBalance, error)
	applyFunc   func(ctx context.Context, cmd services.ApplySkyWalletCommand) (services.SessionView, error)
	summaryFunc func(ctx context.Context, sessionID string) (domain.OrderSummary, error)
}

func (s *stubSkyWalletService) Balance(ctx context.Context, sessionID string) (domain.SkyWalletBalance, error) {
	return s.balanceFunc(ctx, sessionID)
}

func (s *stubSkyWalletService) Apply(ctx context.Context, cmd services.ApplySkyWalletCommand) (services.SessionView, error) {
	return s.applyFunc(ctx, cmd)
}

func (s *stubSkyWalletService) OrderSummary(ctx context.Context, sessionID string) (domain.OrderSummary, error) {
	return s.summaryFunc(ctx, sessionID)
}

type stubSubmissionService struct {
	submitFunc  func(ctx context.Context, cmd services.SubmitOrderCommand) (services.SubmitResult, error)
	receiptFunc func(ctx context.Context, sessionID string) (domain.Receipt, error)
}

func (s *stubSubmissionService) Submit(ctx context.Context, cmd services.SubmitOrderCommand) (services.SubmitResult, error) {
	return s.submitFunc(ctx, cmd)
}

func (s *stubSubmissionService) Receipt(ctx context.Context, sessionID string) (domain.Receipt, error) {
	return s.receiptFunc(ctx, sessionID)
}
