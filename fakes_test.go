package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/feedrlabs/identity/cache/redisc"
	"github.com/feedrlabs/identity/password"
)

// memStore is an in-memory Store for tests. All methods honor the same
// atomicity contracts as the SQL implementation; a single mutex makes
// that trivial.
type memStore struct {
	mu sync.Mutex

	accounts map[uuid.UUID]*Account
	history  []PasswordHistoryEntry
	tokens   map[string]*RefreshToken
	sessions map[uuid.UUID]*Session
	devices  map[uuid.UUID]map[string]*TrustedDevice
	backup   map[uuid.UUID]map[string]bool
	recovery map[uuid.UUID][]*RecoveryCode
	attempts []*LoginAttempt
	audit    []AuditEntry

	auditErr error // forced failure for audit writes
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[uuid.UUID]*Account),
		tokens:   make(map[string]*RefreshToken),
		sessions: make(map[uuid.UUID]*Session),
		devices:  make(map[uuid.UUID]map[string]*TrustedDevice),
		backup:   make(map[uuid.UUID]map[string]bool),
		recovery: make(map[uuid.UUID][]*RecoveryCode),
	}
}

func (m *memStore) CreateAccount(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Username, account.Username) || a.Email == account.Email {
			return ErrIdentifierTaken
		}
	}
	cp := *account
	m.accounts[account.ID] = &cp
	return nil
}

func (m *memStore) AccountByID(_ context.Context, id uuid.UUID) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) AccountByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *memStore) IdentifierInUse(_ context.Context, username, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Username, username) || a.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.PasswordHash = hash
	a.PasswordChangedAt = changedAt
	a.ForcePasswordReset = false
	return nil
}

func (m *memStore) SetForcePasswordReset(_ context.Context, id uuid.UUID, forced bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.ForcePasswordReset = forced
	return nil
}

func (m *memStore) MarkEmailVerified(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.EmailVerified = true
	return nil
}

func (m *memStore) DeleteAccount(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return ErrAccountNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *memStore) RecordLoginFailure(_ context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return 0, nil, ErrAccountNotFound
	}
	if a.LockedUntil != nil && !a.LockedUntil.After(now) {
		a.FailedAttempts = 0
		a.LockedUntil = nil
	}
	a.FailedAttempts++
	if a.LockedUntil == nil && a.FailedAttempts >= maxAttempts {
		until := now.Add(lockFor)
		a.LockedUntil = &until
	}
	return a.FailedAttempts, a.LockedUntil, nil
}

func (m *memStore) ClearLockout(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	return nil
}

func (m *memStore) AppendPasswordHistory(_ context.Context, id uuid.UUID, hash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, PasswordHistoryEntry{AccountID: id, PasswordHash: hash, CreatedAt: now})
	return nil
}

func (m *memStore) PasswordHistory(_ context.Context, id uuid.UUID, since time.Time) ([]PasswordHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PasswordHistoryEntry
	for _, e := range m.history {
		if e.AccountID == id && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) PrunePasswordHistory(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []PasswordHistoryEntry
	var removed int64
	for _, e := range m.history {
		if e.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.history = kept
	return removed, nil
}

func (m *memStore) SetTOTPPending(_ context.Context, id uuid.UUID, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.TOTPSecret = secret
	a.TOTPEnabled = false
	return nil
}

func (m *memStore) EnableTOTP(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.TOTPEnabled = true
	return nil
}

func (m *memStore) SetChannelMFA(_ context.Context, id uuid.UUID, channel Channel, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	switch channel {
	case ChannelSMS:
		a.SMSMFAEnabled = enabled
	case ChannelEmail:
		a.EmailMFAEnabled = enabled
	}
	return nil
}

func (m *memStore) ClearMFA(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.TOTPSecret = ""
	a.TOTPEnabled = false
	a.SMSMFAEnabled = false
	a.EmailMFAEnabled = false
	return nil
}

func (m *memStore) CreateTokenSession(_ context.Context, token *RefreshToken, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc := *token
	sc := *session
	m.tokens[token.TokenHash] = &tc
	m.sessions[session.ID] = &sc
	return nil
}

func (m *memStore) RotateTokenSession(_ context.Context, oldHash string, next *RefreshToken, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tokens[oldHash]
	if !ok || row.RotatedAt != nil || !row.ExpiresAt.After(now) {
		return nil, ErrTokenInvalid
	}
	rotated := now
	row.RotatedAt = &rotated

	next.AccountID = row.AccountID
	nc := *next
	m.tokens[next.TokenHash] = &nc

	for _, s := range m.sessions {
		if s.TokenHash == oldHash {
			s.TokenHash = next.TokenHash
			s.LastActiveAt = now
			s.ExpiresAt = next.ExpiresAt
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (m *memStore) TokenByHash(_ context.Context, hash string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tokens[hash]
	if !ok {
		return nil, ErrTokenInvalid
	}
	cp := *row
	return &cp, nil
}

func (m *memStore) RevokeAllTokens(_ context.Context, accountID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, row := range m.tokens {
		if row.AccountID == accountID {
			delete(m.tokens, hash)
			n++
		}
	}
	for id, s := range m.sessions {
		if s.AccountID == accountID {
			delete(m.sessions, id)
		}
	}
	return n, nil
}

func (m *memStore) PruneTokenTombstones(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, row := range m.tokens {
		if row.RotatedAt != nil && row.RotatedAt.Before(before) {
			delete(m.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (m *memStore) SessionsByAccount(_ context.Context, accountID uuid.UUID) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.AccountID == accountID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) DeleteSession(_ context.Context, accountID, sessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.AccountID != accountID {
		return ErrSessionNotFound
	}
	delete(m.tokens, s.TokenHash)
	delete(m.sessions, sessionID)
	return nil
}

func (m *memStore) DeleteOtherSessions(_ context.Context, accountID uuid.UUID, keepHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.AccountID == accountID && s.TokenHash != keepHash {
			delete(m.tokens, s.TokenHash)
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) TouchSession(_ context.Context, tokenHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TokenHash == tokenHash {
			s.LastActiveAt = now
		}
	}
	return nil
}

func (m *memStore) UpsertTrustedDevice(_ context.Context, device *TrustedDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byFp := m.devices[device.AccountID]
	if byFp == nil {
		byFp = make(map[string]*TrustedDevice)
		m.devices[device.AccountID] = byFp
	}
	if existing, ok := byFp[device.Fingerprint]; ok {
		existing.Device = device.Device
		existing.ExpiresAt = device.ExpiresAt
		existing.LastUsedAt = device.LastUsedAt
		return nil
	}
	cp := *device
	byFp[device.Fingerprint] = &cp
	return nil
}

func (m *memStore) TrustedDeviceByFingerprint(_ context.Context, accountID uuid.UUID, fingerprint string) (*TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[accountID][fingerprint]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) TouchTrustedDevice(_ context.Context, id uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, byFp := range m.devices {
		for _, d := range byFp {
			if d.ID == id {
				d.LastUsedAt = now
			}
		}
	}
	return nil
}

func (m *memStore) DeleteTrustedDevice(_ context.Context, accountID, deviceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for fp, d := range m.devices[accountID] {
		if d.ID == deviceID {
			delete(m.devices[accountID], fp)
			return nil
		}
	}
	return ErrDeviceNotFound
}

func (m *memStore) DeleteTrustedDevices(_ context.Context, accountID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.devices[accountID]))
	delete(m.devices, accountID)
	return n, nil
}

func (m *memStore) TrustedDevices(_ context.Context, accountID uuid.UUID) ([]TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TrustedDevice
	for _, d := range m.devices[accountID] {
		out = append(out, *d)
	}
	return out, nil
}

func (m *memStore) PruneTrustedDevices(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, byFp := range m.devices {
		for fp, d := range byFp {
			if d.ExpiresAt.Before(before) {
				delete(byFp, fp)
				n++
			}
		}
	}
	return n, nil
}

func (m *memStore) ReplaceBackupCodes(_ context.Context, accountID uuid.UUID, hashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		set[h] = true
	}
	m.backup[accountID] = set
	return nil
}

func (m *memStore) ConsumeBackupCode(_ context.Context, accountID uuid.UUID, hash string) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.backup[accountID]
	if !set[hash] {
		return false, len(set), nil
	}
	delete(set, hash)
	return true, len(set), nil
}

func (m *memStore) CountBackupCodes(_ context.Context, accountID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backup[accountID]), nil
}

func (m *memStore) DeleteBackupCodes(_ context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.backup, accountID)
	return nil
}

func (m *memStore) ReplaceRecoveryCodes(_ context.Context, accountID uuid.UUID, codes []RecoveryCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]*RecoveryCode, 0, len(codes))
	for i := range codes {
		cp := codes[i]
		rows = append(rows, &cp)
	}
	m.recovery[accountID] = rows
	return nil
}

func (m *memStore) RedeemRecoveryCode(_ context.Context, accountID uuid.UUID, hash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.recovery[accountID] {
		if c.CodeHash == hash && c.UsedAt == nil && c.ExpiresAt.After(now) {
			used := now
			c.UsedAt = &used
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) PruneRecoveryCodes(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, codes := range m.recovery {
		var kept []*RecoveryCode
		for _, c := range codes {
			if c.ExpiresAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, c)
		}
		m.recovery[id] = kept
	}
	return n, nil
}

func (m *memStore) RecordLoginAttempt(_ context.Context, attempt *LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *attempt
	m.attempts = append(m.attempts, &cp)
	return nil
}

func (m *memStore) CountRecentFailures(_ context.Context, email string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.attempts {
		if a.Email == email && !a.Success && !a.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) SeenIP(_ context.Context, accountID uuid.UUID, ip string) (bool, error) {
	return m.seen(accountID, func(a *LoginAttempt) bool { return a.IP == ip })
}

func (m *memStore) SeenDevice(_ context.Context, accountID uuid.UUID, device string) (bool, error) {
	return m.seen(accountID, func(a *LoginAttempt) bool { return a.Device == device })
}

func (m *memStore) SeenLocation(_ context.Context, accountID uuid.UUID, location string) (bool, error) {
	return m.seen(accountID, func(a *LoginAttempt) bool { return a.Location == location })
}

func (m *memStore) seen(accountID uuid.UUID, match func(*LoginAttempt) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.AccountID != nil && *a.AccountID == accountID && a.Success && match(a) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) HasSuccessfulLogin(_ context.Context, accountID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.AccountID != nil && *a.AccountID == accountID && a.Success {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertAuditEntry(_ context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auditErr != nil {
		return m.auditErr
	}
	m.audit = append(m.audit, *entry)
	return nil
}

func (m *memStore) AuditEntriesByTime(_ context.Context, from, to time.Time, page Page) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []AuditEntry
	for _, e := range m.audit {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			matched = append(matched, e)
		}
	}
	return pageSlice(matched, page), nil
}

func (m *memStore) AuditEntriesByActor(_ context.Context, actorID uuid.UUID, page Page) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []AuditEntry
	for _, e := range m.audit {
		if e.ActorID == actorID {
			matched = append(matched, e)
		}
	}
	return pageSlice(matched, page), nil
}

func (m *memStore) AuditEntriesByTarget(_ context.Context, targetType, targetID string, page Page) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []AuditEntry
	for _, e := range m.audit {
		if e.TargetType == targetType && e.TargetID == targetID {
			matched = append(matched, e)
		}
	}
	return pageSlice(matched, page), nil
}

func pageSlice(entries []AuditEntry, page Page) []AuditEntry {
	if page.Offset >= len(entries) {
		return nil
	}
	entries = entries[page.Offset:]
	if page.Size > 0 && len(entries) > page.Size {
		entries = entries[:page.Size]
	}
	return entries
}

func (m *memStore) auditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audit)
}

func (m *memStore) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

// fakeGateway records notifications instead of sending them.
type fakeGateway struct {
	mu     sync.Mutex
	emails []fakeEmail
	sms    []string
}

type fakeEmail struct {
	To      string
	Subject string
	Body    string
}

func (g *fakeGateway) SendEmail(_ context.Context, to, subject, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emails = append(g.emails, fakeEmail{To: to, Subject: subject, Body: body})
	return nil
}

func (g *fakeGateway) SendSMS(_ context.Context, to, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sms = append(g.sms, to+": "+body)
	return nil
}

func (g *fakeGateway) emailCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.emails)
}

func (g *fakeGateway) lastEmail() (fakeEmail, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.emails) == 0 {
		return fakeEmail{}, false
	}
	return g.emails[len(g.emails)-1], true
}

func (g *fakeGateway) lastSMS() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sms) == 0 {
		return "", false
	}
	return g.sms[len(g.sms)-1], true
}

// testConfig keeps the argon2 cost at the validation floor so hashing does
// not dominate test time.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Argon2 = password.Params{
		MemoryKB:    8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	cfg.Token.Signing.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Captcha.Enabled = false
	return cfg
}

func newTestCore(t *testing.T, cfg Config) (*Core, *memStore, *fakeGateway) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := newMemStore()
	gateway := &fakeGateway{}

	core, err := New(cfg, Deps{
		Store:    store,
		Cache:    redisc.New(rdb),
		Notifier: gateway,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(core.Close)

	return core, store, gateway
}

var testRC = RequestContext{
	IP:             "203.0.113.7",
	UserAgent:      "test-agent/1.0",
	AcceptLanguage: "en-US",
	AcceptEncoding: "gzip",
	Location:       "Berlin, DE",
}

func registerTestAccount(t *testing.T, core *Core) *Account {
	t.Helper()
	account, err := core.Credentials.Register(context.Background(), "alice", "alice@example.com", "Str0ngPassw0rd")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return account
}
