package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/groupgate/group-gate-bot/types"
)

// PostgresStore is the durable entitlement store: users, joined groups,
// per-group subscriptions, group policies and payment records.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = buildPostgresDSNFromEnv()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func buildPostgresDSNFromEnv() string {
	host := strings.TrimSpace(os.Getenv("POSTGRES_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("POSTGRES_PORT"))
	if port == "" {
		port = "5432"
	}
	db := strings.TrimSpace(os.Getenv("POSTGRES_DB"))
	if db == "" {
		db = "group_gate"
	}
	user := strings.TrimSpace(os.Getenv("POSTGRES_USER"))
	if user == "" {
		user = "group_gate"
	}
	pass := os.Getenv("POSTGRES_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", urlEscape(user), urlEscape(pass), host, port, db)
}

func urlEscape(s string) string {
	r := strings.NewReplacer(
		"%", "%25",
		":", "%3A",
		"/", "%2F",
		"@", "%40",
		"?", "%3F",
		"#", "%23",
		"[", "%5B",
		"]", "%5D",
	)
	return r.Replace(s)
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// --- users ---

func (s *PostgresStore) UpsertUser(user types.User) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (user_id, username, first_name, last_name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET
  username = EXCLUDED.username,
  first_name = EXCLUDED.first_name,
  last_name = EXCLUDED.last_name,
  updated_at = NOW();
`, user.UserID, strings.TrimSpace(user.Username), strings.TrimSpace(user.FirstName), strings.TrimSpace(user.LastName))
	return err
}

func (s *PostgresStore) GetUser(userID int64) (*types.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var u types.User
	err := s.pool.QueryRow(ctx, `
SELECT user_id, username, first_name, last_name, created_at, updated_at
FROM users
WHERE user_id = $1
`, userID).Scan(&u.UserID, &u.Username, &u.FirstName, &u.LastName, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) TouchSubscriptionPrompt(userID int64, minInterval time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE users
SET last_prompt_at = NOW()
WHERE user_id = $1
  AND (last_prompt_at IS NULL OR last_prompt_at < NOW() - make_interval(secs => $2::float8))
`, userID, minInterval.Seconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- joined groups ---

func (s *PostgresStore) RecordJoinedGroup(userID, groupID int64, title string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO joined_groups (user_id, group_id, title)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, group_id) DO UPDATE SET
  title = EXCLUDED.title
`, userID, groupID, strings.TrimSpace(title))
	return err
}

func (s *PostgresStore) IsJoinedGroup(userID, groupID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ok bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(
  SELECT 1 FROM joined_groups WHERE user_id = $1 AND group_id = $2
)
`, userID, groupID).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *PostgresStore) RemoveJoinedGroup(userID, groupID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
DELETE FROM joined_groups WHERE user_id = $1 AND group_id = $2
`, userID, groupID)
	return err
}

// --- group subscriptions ---

func (s *PostgresStore) GetGroupSubscription(userID, groupID int64) (*types.GroupSubscription, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var sub types.GroupSubscription
	err := s.pool.QueryRow(ctx, `
SELECT user_id, group_id, is_subscribed, started_at, expires_at,
       payment_amount, payment_currency, is_admin_subscription, created_at, updated_at
FROM group_subscriptions
WHERE user_id = $1 AND group_id = $2
`, userID, groupID).Scan(&sub.UserID, &sub.GroupID, &sub.IsSubscribed, &sub.StartedAt, &sub.ExpiresAt,
		&sub.PaymentAmount, &sub.PaymentCurrency, &sub.IsAdminSubscription, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// EnsureAdminSubscription inserts the synthetic admin entitlement once;
// concurrent evaluations for the same admin collapse on the conflict.
func (s *PostgresStore) EnsureAdminSubscription(userID, groupID int64, validity time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now().UTC()
	expires := now.Add(validity)
	tag, err := s.pool.Exec(ctx, `
INSERT INTO group_subscriptions
  (user_id, group_id, is_subscribed, started_at, expires_at, payment_amount, payment_currency, is_admin_subscription)
VALUES ($1, $2, TRUE, $3, $4, 0, '', TRUE)
ON CONFLICT (user_id, group_id) DO NOTHING
`, userID, groupID, now, expires)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GrantTrialSubscription is insert-if-absent: a duplicate join event can
// never produce a second trial.
func (s *PostgresStore) GrantTrialSubscription(userID, groupID int64, days int) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now().UTC()
	expires := now.Add(time.Duration(days) * 24 * time.Hour)
	tag, err := s.pool.Exec(ctx, `
INSERT INTO group_subscriptions
  (user_id, group_id, is_subscribed, started_at, expires_at, payment_amount, payment_currency, is_admin_subscription)
VALUES ($1, $2, TRUE, $3, $4, 0, '', FALSE)
ON CONFLICT (user_id, group_id) DO NOTHING
`, userID, groupID, now, expires)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ExtendGroupSubscription(userID, groupID int64, amount float64, currency string, duration time.Duration) (*types.GroupSubscription, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	var currentExpires *time.Time
	err = tx.QueryRow(ctx, `
SELECT expires_at
FROM group_subscriptions
WHERE user_id = $1 AND group_id = $2
FOR UPDATE
`, userID, groupID).Scan(&currentExpires)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		currentExpires = nil
	}

	base := now
	if currentExpires != nil && currentExpires.After(base) {
		base = *currentExpires
	}
	newExpires := base.Add(duration)

	_, err = tx.Exec(ctx, `
INSERT INTO group_subscriptions
  (user_id, group_id, is_subscribed, started_at, expires_at, payment_amount, payment_currency, is_admin_subscription)
VALUES ($1, $2, TRUE, $3, $4, $5, $6, FALSE)
ON CONFLICT (user_id, group_id) DO UPDATE SET
  is_subscribed = TRUE,
  expires_at = EXCLUDED.expires_at,
  payment_amount = EXCLUDED.payment_amount,
  payment_currency = EXCLUDED.payment_currency,
  updated_at = NOW()
`, userID, groupID, now, newExpires, amount, strings.TrimSpace(currency))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &types.GroupSubscription{
		UserID:          userID,
		GroupID:         groupID,
		IsSubscribed:    true,
		StartedAt:       now,
		ExpiresAt:       &newExpires,
		PaymentAmount:   amount,
		PaymentCurrency: currency,
		UpdatedAt:       now,
	}, nil
}

func (s *PostgresStore) MarkSubscriptionLapsed(userID, groupID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
UPDATE group_subscriptions
SET is_subscribed = FALSE, updated_at = NOW()
WHERE user_id = $1 AND group_id = $2
`, userID, groupID)
	return err
}

func (s *PostgresStore) ListNewlyExpired(limit int) ([]types.GroupSubscription, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT user_id, group_id, is_subscribed, started_at, expires_at,
       payment_amount, payment_currency, is_admin_subscription, created_at, updated_at
FROM group_subscriptions
WHERE is_subscribed AND expires_at IS NOT NULL AND expires_at < NOW()
ORDER BY expires_at
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.GroupSubscription
	for rows.Next() {
		var sub types.GroupSubscription
		err := rows.Scan(&sub.UserID, &sub.GroupID, &sub.IsSubscribed, &sub.StartedAt, &sub.ExpiresAt,
			&sub.PaymentAmount, &sub.PaymentCurrency, &sub.IsAdminSubscription, &sub.CreatedAt, &sub.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListLapsedMembers(groupID int64) ([]int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT jg.user_id
FROM joined_groups jg
LEFT JOIN group_subscriptions gs
  ON gs.user_id = jg.user_id AND gs.group_id = jg.group_id
WHERE jg.group_id = $1
  AND (gs.user_id IS NULL OR NOT gs.is_subscribed OR gs.expires_at IS NULL OR gs.expires_at <= NOW())
`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}

// --- group policies ---

func (s *PostgresStore) RegisterGroupPolicy(policy types.GroupPolicy) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO group_policies (group_id, title, is_registered, registered_at, subscription_currency, admin_users)
VALUES ($1, $2, TRUE, NOW(), $3, $4)
ON CONFLICT (group_id) DO UPDATE SET
  title = EXCLUDED.title,
  is_registered = TRUE,
  registered_at = COALESCE(group_policies.registered_at, NOW()),
  admin_users = EXCLUDED.admin_users,
  updated_at = NOW()
`, policy.GroupID, strings.TrimSpace(policy.Title), strings.TrimSpace(policy.SubscriptionCurrency), policy.AdminUsers)
	return err
}

func (s *PostgresStore) GetGroupPolicy(groupID int64) (*types.GroupPolicy, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var p types.GroupPolicy
	var settings []byte
	err := s.pool.QueryRow(ctx, `
SELECT group_id, title, is_registered, registered_at,
       subscription_required, subscription_price, subscription_currency,
       payment_method, custom_payment_settings,
       restrict_sending, restrict_viewing,
       trial_enabled, trial_days,
       monetization_date, grace_period_hours,
       welcome_message, admin_users, created_at, updated_at
FROM group_policies
WHERE group_id = $1
`, groupID).Scan(&p.GroupID, &p.Title, &p.IsRegistered, &p.RegisteredAt,
		&p.SubscriptionRequired, &p.SubscriptionPrice, &p.SubscriptionCurrency,
		&p.PaymentMethod, &settings,
		&p.RestrictNonSubsSending, &p.RestrictNonSubsViewing,
		&p.UserTrialEnabled, &p.UserTrialDays,
		&p.MonetizationDate, &p.ExistingUserGracePeriodHours,
		&p.WelcomeMessage, &p.AdminUsers, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &p.CustomPaymentSettings); err != nil {
			return nil, fmt.Errorf("decode payment settings for group %d: %w", groupID, err)
		}
	}
	return &p, nil
}

func (s *PostgresStore) UpdateGroupPolicy(policy types.GroupPolicy) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	settings, err := json.Marshal(policy.CustomPaymentSettings)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
UPDATE group_policies SET
  title = $2,
  is_registered = $3,
  subscription_required = $4,
  subscription_price = $5,
  subscription_currency = $6,
  payment_method = $7,
  custom_payment_settings = $8,
  restrict_sending = $9,
  restrict_viewing = $10,
  trial_enabled = $11,
  trial_days = $12,
  monetization_date = $13,
  grace_period_hours = $14,
  welcome_message = $15,
  admin_users = $16,
  updated_at = NOW()
WHERE group_id = $1
`, policy.GroupID, strings.TrimSpace(policy.Title), policy.IsRegistered,
		policy.SubscriptionRequired, policy.SubscriptionPrice, strings.TrimSpace(policy.SubscriptionCurrency),
		strings.TrimSpace(policy.PaymentMethod), settings,
		policy.RestrictNonSubsSending, policy.RestrictNonSubsViewing,
		policy.UserTrialEnabled, policy.UserTrialDays,
		policy.MonetizationDate, policy.ExistingUserGracePeriodHours,
		policy.WelcomeMessage, policy.AdminUsers)
	return err
}

// SetPaymentSetting writes one provider credential so the wizard's partial
// progress survives an interrupted conversation.
func (s *PostgresStore) SetPaymentSetting(groupID int64, provider, key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
UPDATE group_policies
SET custom_payment_settings =
      jsonb_set(
        jsonb_set(
          COALESCE(custom_payment_settings, '{}'::jsonb),
          ARRAY[$2],
          COALESCE(custom_payment_settings -> $2, '{}'::jsonb),
          true
        ),
        ARRAY[$2, $3],
        to_jsonb($4::text),
        true
      ),
    updated_at = NOW()
WHERE group_id = $1
`, groupID, provider, key, value)
	return err
}

func (s *PostgresStore) ListEnforcedPolicies() ([]types.GroupPolicy, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT group_id FROM group_policies
WHERE is_registered AND subscription_required AND restrict_viewing
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]types.GroupPolicy, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetGroupPolicy(id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

// --- payments ---

func (s *PostgresStore) RecordPayment(p types.PaymentRecord) (inserted bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
INSERT INTO payments (provider, payment_id, user_id, group_id, amount, currency, status, is_subscription)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (payment_id) DO NOTHING
`, strings.TrimSpace(p.Provider), strings.TrimSpace(p.PaymentID), p.UserID, p.GroupID,
		p.Amount, strings.TrimSpace(p.Currency), strings.TrimSpace(p.Status), p.IsSubscription)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
