package hrest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type LedgerRestHandler struct {
	accountUC   *usecase.AccountUsecase
	ledgerUC    *usecase.LedgerUsecase
	transferUC  *usecase.TransferUsecase
	cardUC      *usecase.CardUsecase
	statementUC *usecase.StatementUsecase
	auditUC     *usecase.AuditUsecase
	health      Pinger
	logger      *zap.Logger
}

func NewLedgerRestHandler(
	accountUC *usecase.AccountUsecase,
	ledgerUC *usecase.LedgerUsecase,
	transferUC *usecase.TransferUsecase,
	cardUC *usecase.CardUsecase,
	statementUC *usecase.StatementUsecase,
	auditUC *usecase.AuditUsecase,
	health Pinger,
	logger *zap.Logger,
) *LedgerRestHandler {
	return &LedgerRestHandler{
		accountUC:   accountUC,
		ledgerUC:    ledgerUC,
		transferUC:  transferUC,
		cardUC:      cardUC,
		statementUC: statementUC,
		auditUC:     auditUC,
		health:      health,
		logger:      logger,
	}
}

type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Router builds the chi router with the middleware stack and every route.
func (h *LedgerRestHandler) Router(opts RouterOptions) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", UserIDHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{"Retry-After", middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Group(func(r chi.Router) {
		r.Use(RequireOwner)
		h.registerRoutes(r)
	})
	return r
}

func (h *LedgerRestHandler) registerRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.CreateAccount)
		r.Get("/", h.ListAccounts)
		r.Get("/{id}", h.GetAccount)
		r.Patch("/{id}/status", h.SetAccountStatus)
		r.Post("/{id}/deposit", h.Deposit)
		r.Get("/{id}/transactions", h.ListTransactions)
	})

	// Older clients address the ledger through /transactions.
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/{id}", h.ListTransactions)
		r.Post("/{id}/deposit", h.Deposit)
		r.Post("/{id}/withdraw", h.Withdraw)
	})

	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", h.CreateTransfer)
		r.Get("/{key}", h.GetTransfer)
	})

	r.Route("/cards", func(r chi.Router) {
		r.Post("/", h.RegisterCard)
		r.Get("/", h.ListCards)
		r.Get("/{id}", h.GetCard)
		r.Patch("/{id}", h.UpdateCard)
		r.Patch("/{id}/status", h.UpdateCardStatus)
		r.Patch("/{id}/limit", h.UpdateCardLimit)
		r.Post("/{id}/charge", h.ChargeCard)
	})

	r.Get("/statements/{id}", h.GetStatement)
}

func (h *LedgerRestHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	Error(w, r, h.logger, err)
}

// audit records a successful caller action with its request metadata.
func (h *LedgerRestHandler) audit(r *http.Request, action, resourceType, resourceID, details string) {
	if h.auditUC == nil {
		return
	}
	h.auditUC.Record(r.Context(), domain.AuditEntry{
		ActorID:      ownerFrom(r.Context()),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		IPAddress:    clientIP(r),
		RequestID:    requestID(r),
	})
}

func (h *LedgerRestHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.health.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- accounts ---

type createAccountRequest struct {
	AccountType    string      `json:"account_type"`
	Currency       string      `json:"currency"`
	InitialDeposit json.Number `json:"initial_deposit_cents"`
	Timezone       string      `json:"timezone"`
}

func (h *LedgerRestHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var in createAccountRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	deposit, err := minorUnits("initial_deposit_cents", in.InitialDeposit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	acc, err := h.accountUC.Create(r.Context(), domain.AccountCreate{
		OwnerID:        ownerFrom(r.Context()),
		AccountType:    domain.AccountType(strings.TrimSpace(in.AccountType)),
		Currency:       in.Currency,
		InitialDeposit: deposit,
		Timezone:       strings.TrimSpace(in.Timezone),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, domain.AuditAccountCreate, domain.ResourceAccount, acc.ID,
		fmt.Sprintf("type=%s currency=%s initial_deposit_cents=%d", acc.AccountType, acc.Currency, deposit))
	JSON(w, http.StatusCreated, acc)
}

func (h *LedgerRestHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accountUC.List(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, accounts)
}

func (h *LedgerRestHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountUC.Get(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, acc)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *LedgerRestHandler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	var in statusRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	acc, err := h.accountUC.SetStatus(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"), domain.AccountStatus(in.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, domain.AuditAccountStatus, domain.ResourceAccount, acc.ID, "status="+string(acc.Status))
	JSON(w, http.StatusOK, acc)
}

type amountRequest struct {
	Amount      json.Number `json:"amount_cents"`
	Description string      `json:"description"`
}

func (h *LedgerRestHandler) decodeAmount(w http.ResponseWriter, r *http.Request) (int64, string, error) {
	var in amountRequest
	if err := decodeJSON(w, r, &in); err != nil {
		return 0, "", err
	}
	amount, err := requiredMinorUnits("amount_cents", in.Amount)
	if err != nil {
		return 0, "", err
	}
	return amount, in.Description, nil
}

func (h *LedgerRestHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	amount, description, err := h.decodeAmount(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.accountUC.Deposit(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"), amount, description)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, domain.AuditAccountDeposit, domain.ResourceAccount, p.AccountID, fmt.Sprintf("amount_cents=%d posting_id=%s", amount, p.ID))
	JSON(w, http.StatusOK, p)
}

func (h *LedgerRestHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	amount, description, err := h.decodeAmount(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.accountUC.Withdraw(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"), amount, description)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, domain.AuditAccountWithdraw, domain.ResourceAccount, p.AccountID, fmt.Sprintf("amount_cents=%d posting_id=%s", amount, p.ID))
	JSON(w, http.StatusOK, p)
}

func (h *LedgerRestHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := postingFilter(r, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.ledgerUC.ListForAccount(r.Context(), ownerFrom(r.Context()), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, page)
}

// --- transfers ---

type transferRequest struct {
	IdempotencyKey string      `json:"idempotency_key"`
	FromAccountID  string      `json:"from_account_id"`
	ToAccountID    string      `json:"to_account_id"`
	Amount         json.Number `json:"amount_cents"`
	Description    string      `json:"description"`
}

func (h *LedgerRestHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var in transferRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := requiredMinorUnits("amount_cents", in.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, created, err := h.transferUC.Transfer(r.Context(), domain.TransferRequest{
		OwnerID:        ownerFrom(r.Context()),
		IdempotencyKey: in.IdempotencyKey,
		FromAccountID:  in.FromAccountID,
		ToAccountID:    in.ToAccountID,
		Amount:         amount,
		Description:    in.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		t := res.Transfer
		h.audit(r, domain.AuditTransferCreate, domain.ResourceTransfer, t.ID,
			fmt.Sprintf("idempotency_key=%s from=%s to=%s amount_cents=%d", t.IdempotencyKey, t.FromAccountID, t.ToAccountID, t.Amount))
	}
	JSON(w, status, res)
}

func (h *LedgerRestHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	res, err := h.transferUC.Get(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// --- cards ---

type registerCardRequest struct {
	AccountID   string      `json:"account_id"`
	CardNumber  string      `json:"card_number"`
	CardType    string      `json:"card_type"`
	ExpiryMonth int         `json:"expiry_month"`
	ExpiryYear  int         `json:"expiry_year"`
	DailyLimit  json.Number `json:"daily_limit"`
}

func (h *LedgerRestHandler) RegisterCard(w http.ResponseWriter, r *http.Request) {
	var in registerCardRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := requiredMinorUnits("daily_limit", in.DailyLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	card, err := h.cardUC.Register(r.Context(), domain.CardCreate{
		OwnerID:     ownerFrom(r.Context()),
		AccountID:   in.AccountID,
		CardNumber:  strings.ReplaceAll(in.CardNumber, " ", ""),
		CardType:    domain.CardType(in.CardType),
		ExpiryMonth: in.ExpiryMonth,
		ExpiryYear:  in.ExpiryYear,
		DailyLimit:  limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, domain.AuditCardRegister, domain.ResourceCard, card.ID,
		fmt.Sprintf("account_id=%s masked=%s daily_limit_cents=%d", card.AccountID, card.MaskedNumber, card.DailyLimit))
	JSON(w, http.StatusCreated, card)
}

func (h *LedgerRestHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.cardUC.List(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, cards)
}

func (h *LedgerRestHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.cardUC.Get(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, card)
}

type cardPatchRequest struct {
	Status     domain.Optional[domain.CardStatus] `json:"status"`
	DailyLimit domain.Optional[json.Number]       `json:"daily_limit"`
}

func (h *LedgerRestHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	var in cardPatchRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	patch := domain.CardPatch{Status: in.Status}
	if in.DailyLimit.Set {
		limit, err := minorUnits("daily_limit", in.DailyLimit.Value)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		patch.DailyLimit = domain.Some(limit)
	}
	h.applyCardPatch(w, r, patch)
}

func (h *LedgerRestHandler) UpdateCardStatus(w http.ResponseWriter, r *http.Request) {
	var in statusRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	if in.Status == "" {
		h.fail(w, r, domain.Invalid("status", "status is required"))
		return
	}
	h.applyCardPatch(w, r, domain.CardPatch{Status: domain.Some(domain.CardStatus(in.Status))})
}

type limitRequest struct {
	DailyLimit json.Number `json:"daily_limit"`
}

func (h *LedgerRestHandler) UpdateCardLimit(w http.ResponseWriter, r *http.Request) {
	var in limitRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := requiredMinorUnits("daily_limit", in.DailyLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.applyCardPatch(w, r, domain.CardPatch{DailyLimit: domain.Some(limit)})
}

func (h *LedgerRestHandler) applyCardPatch(w http.ResponseWriter, r *http.Request, patch domain.CardPatch) {
	card, err := h.cardUC.Update(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, domain.AuditCardUpdate, domain.ResourceCard, card.ID,
		fmt.Sprintf("status=%s daily_limit_cents=%d", card.Status, card.DailyLimit))
	JSON(w, http.StatusOK, card)
}

func (h *LedgerRestHandler) ChargeCard(w http.ResponseWriter, r *http.Request) {
	amount, description, err := h.decodeAmount(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cardID := chi.URLParam(r, "id")
	p, err := h.cardUC.Charge(r.Context(), ownerFrom(r.Context()), cardID, amount, description)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, domain.AuditCardCharge, domain.ResourceCard, cardID, fmt.Sprintf("amount_cents=%d posting_id=%s", amount, p.ID))
	JSON(w, http.StatusOK, p)
}

// --- statements ---

func (h *LedgerRestHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	st, err := h.statementUC.Build(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"), q.Get("start"), q.Get("end"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, domain.AuditStatementGenerate, domain.ResourceStatement, st.AccountID,
		fmt.Sprintf("start=%s end=%s", st.Start.Format(time.RFC3339), st.End.Format(time.RFC3339)))
	JSON(w, http.StatusOK, st)
}
