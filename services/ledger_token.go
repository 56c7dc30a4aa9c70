package services

import (
	"context"
	"fmt"
	"options-market/interfaces"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LedgerToken is an in-process ERC20-style token. Balances and allowances are
// optionally mirrored to a LedgerStore after every change. The custodian's
// balance can only be debited through the handle returned by LedgerTokens.Custodian.
type LedgerToken struct {
	address    string
	custodian  string
	balances   map[string]decimal.Decimal
	allowances map[string]map[string]decimal.Decimal
	store      interfaces.LedgerStore
	mu         sync.RWMutex
	logger     *logrus.Logger
}

// NewLedgerToken creates an empty token. store may be nil.
func NewLedgerToken(address string, store interfaces.LedgerStore) *LedgerToken {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &LedgerToken{
		address:    interfaces.NormalizeAccount(address),
		balances:   make(map[string]decimal.Decimal),
		allowances: make(map[string]map[string]decimal.Decimal),
		store:      store,
		logger:     logger,
	}
}

// Address returns the token's normalised address
func (t *LedgerToken) Address() string {
	return t.address
}

// BalanceOf returns account's balance
func (t *LedgerToken) BalanceOf(account string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[interfaces.NormalizeAccount(account)]
}

// Allowance returns how much spender may pull from owner
func (t *LedgerToken) Allowance(owner, spender string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowanceLocked(interfaces.NormalizeAccount(owner), interfaces.NormalizeAccount(spender))
}

func (t *LedgerToken) allowanceLocked(owner, spender string) decimal.Decimal {
	if spenders, ok := t.allowances[owner]; ok {
		return spenders[spender]
	}
	return decimal.Zero
}

// Approve sets spender's allowance on owner to amount
func (t *LedgerToken) Approve(ctx context.Context, owner, spender string, amount decimal.Decimal) bool {
	owner = interfaces.NormalizeAccount(owner)
	spender = interfaces.NormalizeAccount(spender)
	if owner == "" || spender == "" || amount.IsNegative() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.guardedLocked(owner) {
		return false
	}
	t.setAllowanceLocked(owner, spender, amount)
	t.persistAllowance(ctx, owner, spender, amount)
	return true
}

func (t *LedgerToken) setAllowanceLocked(owner, spender string, amount decimal.Decimal) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[string]decimal.Decimal)
	}
	t.allowances[owner][spender] = amount
}

// Transfer moves amount from -> to on from's own authority
func (t *LedgerToken) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) bool {
	return t.transfer(ctx, from, to, amount, false)
}

func (t *LedgerToken) transfer(ctx context.Context, from, to string, amount decimal.Decimal, custody bool) bool {
	from = interfaces.NormalizeAccount(from)
	to = interfaces.NormalizeAccount(to)

	t.mu.Lock()
	defer t.mu.Unlock()

	if !custody && t.guardedLocked(from) {
		t.logger.WithFields(logrus.Fields{
			"token": t.address,
			"from":  from,
			"to":    to,
		}).Warn("Rejected transfer out of custody")
		return false
	}
	if !t.moveLocked(from, to, amount) {
		return false
	}
	t.persistBalances(ctx, from, to)
	return true
}

// TransferFrom moves amount from -> to, consuming spender's allowance on from
func (t *LedgerToken) TransferFrom(ctx context.Context, spender, from, to string, amount decimal.Decimal) bool {
	spender = interfaces.NormalizeAccount(spender)
	from = interfaces.NormalizeAccount(from)
	to = interfaces.NormalizeAccount(to)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.guardedLocked(from) {
		return false
	}
	allowance := t.allowanceLocked(from, spender)
	if allowance.LessThan(amount) {
		return false
	}
	if !t.moveLocked(from, to, amount) {
		return false
	}

	remaining := allowance.Sub(amount)
	t.setAllowanceLocked(from, spender, remaining)
	t.persistBalances(ctx, from, to)
	t.persistAllowance(ctx, from, spender, remaining)
	return true
}

func (t *LedgerToken) guardedLocked(account string) bool {
	return t.custodian != "" && account == t.custodian
}

func (t *LedgerToken) moveLocked(from, to string, amount decimal.Decimal) bool {
	if from == "" || to == "" || amount.IsNegative() {
		return false
	}
	balance := t.balances[from]
	if balance.LessThan(amount) {
		return false
	}
	t.balances[from] = balance.Sub(amount)
	t.balances[to] = t.balances[to].Add(amount)
	return true
}

// Mint credits amount to account out of thin air
func (t *LedgerToken) Mint(ctx context.Context, account string, amount decimal.Decimal) error {
	account = interfaces.NormalizeAccount(account)
	if account == "" {
		return interfaces.ErrInvalidAccount
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: mint amount must be positive", interfaces.ErrInvalidAmount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.balances[account] = t.balances[account].Add(amount)
	t.persistBalances(ctx, account)

	t.logger.WithFields(logrus.Fields{
		"token":   t.address,
		"account": account,
		"amount":  amount.String(),
	}).Info("Tokens minted")
	return nil
}

// Holders returns accounts with a non-zero balance, sorted
func (t *LedgerToken) Holders() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	holders := make([]string, 0, len(t.balances))
	for account, balance := range t.balances {
		if !balance.IsZero() {
			holders = append(holders, account)
		}
	}
	sort.Strings(holders)
	return holders
}

// load replaces in-memory state with the persisted ledger
func (t *LedgerToken) load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}

	ledger, err := t.store.LoadTokenLedger(ctx, t.address)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = ledger.Balances
	t.allowances = ledger.Allowances
	return nil
}

func (t *LedgerToken) persistBalances(ctx context.Context, accounts ...string) {
	if t.store == nil {
		return
	}
	changed := make(map[string]decimal.Decimal, len(accounts))
	for _, account := range accounts {
		changed[account] = t.balances[account]
	}
	if err := t.store.SaveTokenBalances(ctx, t.address, changed); err != nil {
		t.logger.WithError(err).WithField("token", t.address).Warn("Failed to save token balances to database")
	}
}

func (t *LedgerToken) persistAllowance(ctx context.Context, owner, spender string, amount decimal.Decimal) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveTokenAllowance(ctx, t.address, owner, spender, amount); err != nil {
		t.logger.WithError(err).WithField("token", t.address).Warn("Failed to save token allowance to database")
	}
}

// LedgerTokens is the set of tokens the engine may settle in
type LedgerTokens struct {
	tokens    map[string]*LedgerToken
	store     interfaces.LedgerStore
	custodian string
	mu        sync.RWMutex
}

// NewLedgerTokens creates an empty token set. store may be nil.
func NewLedgerTokens(store interfaces.LedgerStore) *LedgerTokens {
	return &LedgerTokens{
		tokens: make(map[string]*LedgerToken),
		store:  store,
	}
}

// Register adds a token and restores its persisted ledger. Registering twice returns the existing token.
func (lt *LedgerTokens) Register(ctx context.Context, address string) (*LedgerToken, error) {
	address = interfaces.NormalizeAccount(address)
	if address == "" {
		return nil, fmt.Errorf("%w: empty token address", interfaces.ErrInvalidAccount)
	}

	lt.mu.Lock()
	defer lt.mu.Unlock()

	if token, ok := lt.tokens[address]; ok {
		return token, nil
	}

	token := NewLedgerToken(address, lt.store)
	token.custodian = lt.custodian
	if err := token.load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load token %s: %w", address, err)
	}
	lt.tokens[address] = token
	return token, nil
}

// Token implements interfaces.TokenResolver
func (lt *LedgerTokens) Token(address string) (interfaces.Token, error) {
	token, err := lt.Ledger(address)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Ledger returns the concrete token for address
func (lt *LedgerTokens) Ledger(address string) (*LedgerToken, error) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	token, ok := lt.tokens[interfaces.NormalizeAccount(address)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownToken, address)
	}
	return token, nil
}

// Custodian reserves account as engine custody on every token, present and future.
// Only the returned resolver's tokens may debit it; the plain tokens refuse.
func (lt *LedgerTokens) Custodian(account string) interfaces.TokenResolver {
	account = interfaces.NormalizeAccount(account)

	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.custodian = account
	for _, token := range lt.tokens {
		token.mu.Lock()
		token.custodian = account
		token.mu.Unlock()
	}
	return custodyTokens{tokens: lt}
}

type custodyTokens struct {
	tokens *LedgerTokens
}

func (ct custodyTokens) Token(address string) (interfaces.Token, error) {
	token, err := ct.tokens.Ledger(address)
	if err != nil {
		return nil, err
	}
	return custodyToken{LedgerToken: token}, nil
}

// custodyToken is the vault's view of a LedgerToken
type custodyToken struct {
	*LedgerToken
}

func (ct custodyToken) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) bool {
	return ct.transfer(ctx, from, to, amount, true)
}

// Addresses lists registered token addresses, sorted
func (lt *LedgerTokens) Addresses() []string {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	addresses := make([]string, 0, len(lt.tokens))
	for address := range lt.tokens {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses
}
