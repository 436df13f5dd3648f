// Package repository содержит хранилища реферальной системы: PostgreSQL и in-memory.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/referral-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	referralCodeKey     = "referrals_code_key"
	referralRedeemerKey = "referrals_redeemed_by_key"
)

const referralColumns = `id, code, owner_id, created_at, redeemed_by, redeemed_at`

const rewardColumns = `id, beneficiary_id, referral_id, trigger_type, value, unit, status, created_at`

const rewardConfigColumns = `id, trigger_type, value, unit, active, created_at`

// querier объединяет методы, общие для пула соединений и транзакции.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func scanReferral(row pgx.Row) (*model.Referral, error) {
	var ref model.Referral
	if err := row.Scan(&ref.ID, &ref.Code, &ref.OwnerID, &ref.CreatedAt, &ref.RedeemedBy, &ref.RedeemedAt); err != nil {
		return nil, err
	}
	return &ref, nil
}

func scanReward(row pgx.Row) (*model.RewardEntry, error) {
	var e model.RewardEntry
	if err := row.Scan(&e.ID, &e.BeneficiaryID, &e.ReferralID, &e.TriggerType, &e.Value, &e.Unit, &e.Status, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanRewardConfig(row pgx.Row) (*model.RewardConfig, error) {
	var c model.RewardConfig
	if err := row.Scan(&c.ID, &c.TriggerType, &c.Value, &c.Unit, &c.Active, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, isAdmin bool) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, is_admin) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, isAdmin,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err, "") {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, is_admin, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetOrCreateReferral возвращает код владельца или создаёт его.
// Вставка выполняется одним условным INSERT по уникальному owner_id,
// поэтому параллельные вызовы для одного владельца создают не более одной записи.
func (r *PostgresRepository) GetOrCreateReferral(ctx context.Context, ownerID int64, generate func() string) (*model.Referral, error) {
	ref, err := scanReferral(r.pool.QueryRow(ctx,
		`SELECT `+referralColumns+` FROM referrals WHERE owner_id = $1`,
		ownerID,
	))
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("select referral: %w", err)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		ref, err = scanReferral(r.pool.QueryRow(ctx,
			`INSERT INTO referrals (code, owner_id) VALUES ($1, $2)
			 ON CONFLICT (owner_id) DO NOTHING
			 RETURNING `+referralColumns,
			generate(), ownerID,
		))
		switch {
		case err == nil:
			return ref, nil
		case errors.Is(err, pgx.ErrNoRows):
			// Код уже создан параллельным запросом того же владельца.
			ref, err = scanReferral(r.pool.QueryRow(ctx,
				`SELECT `+referralColumns+` FROM referrals WHERE owner_id = $1`,
				ownerID,
			))
			if err != nil {
				return nil, fmt.Errorf("select existing referral: %w", err)
			}
			return ref, nil
		case isUniqueViolation(err, referralCodeKey):
			continue
		default:
			return nil, fmt.Errorf("insert referral: %w", err)
		}
	}

	return nil, ErrCodeSpaceExhausted
}

// RedeemReferral помечает код использованным и, если есть активное правило для trigger,
// создаёт запись вознаграждения владельцу кода в статусе PENDING. Всё выполняется в одной транзакции.
func (r *PostgresRepository) RedeemReferral(ctx context.Context, code string, redeemerID int64, trigger model.TriggerType) (*model.Referral, *model.RewardEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокируем строку кода, чтобы параллельные попытки использовать его выполнялись последовательно.
	ref, err := scanReferral(tx.QueryRow(ctx,
		`SELECT `+referralColumns+` FROM referrals WHERE code = $1 FOR UPDATE`,
		code,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrReferralNotFound
		}
		return nil, nil, fmt.Errorf("lock referral: %w", err)
	}

	if ref.OwnerID == redeemerID {
		return nil, nil, ErrSelfReferral
	}

	var used bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM referrals WHERE redeemed_by = $1)`,
		redeemerID,
	).Scan(&used)
	if err != nil {
		return nil, nil, fmt.Errorf("check redeemer: %w", err)
	}
	if used || ref.Redeemed() {
		return nil, nil, ErrAlreadyRedeemed
	}

	// Уникальный индекс по redeemed_by отсекает гонку одного пользователя по двум разным кодам.
	ref, err = scanReferral(tx.QueryRow(ctx,
		`UPDATE referrals SET redeemed_by = $2, redeemed_at = NOW()
		 WHERE id = $1 AND redeemed_by IS NULL
		 RETURNING `+referralColumns,
		ref.ID, redeemerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err, referralRedeemerKey) {
			return nil, nil, ErrAlreadyRedeemed
		}
		return nil, nil, fmt.Errorf("redeem referral: %w", err)
	}

	cfg, err := activeRewardConfig(ctx, tx, trigger)
	if err != nil {
		return nil, nil, err
	}

	var entry *model.RewardEntry
	if cfg != nil {
		entry, err = insertReward(ctx, tx, model.NewPendingReward(ref.OwnerID, ref.ID, *cfg, time.Now()))
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err, referralRedeemerKey) {
			return nil, nil, ErrAlreadyRedeemed
		}
		return nil, nil, fmt.Errorf("commit tx: %w", err)
	}

	return ref, entry, nil
}

// GetReferralsByOwner возвращает коды владельца в порядке создания.
func (r *PostgresRepository) GetReferralsByOwner(ctx context.Context, ownerID int64) ([]model.Referral, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+referralColumns+`
		 FROM referrals
		 WHERE owner_id = $1
		 ORDER BY created_at, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select referrals: %w", err)
	}
	defer rows.Close()

	var res []model.Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		res = append(res, *ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CountReferralsByOwner возвращает общее число кодов владельца и число использованных.
func (r *PostgresRepository) CountReferralsByOwner(ctx context.Context, ownerID int64) (int64, int64, error) {
	var total, redeemed int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(redeemed_by) FROM referrals WHERE owner_id = $1`,
		ownerID,
	).Scan(&total, &redeemed)
	if err != nil {
		return 0, 0, fmt.Errorf("count referrals: %w", err)
	}
	return total, redeemed, nil
}

// GetReferralTimeline возвращает число созданных кодов владельца по дням (UTC) по возрастанию даты.
func (r *PostgresRepository) GetReferralTimeline(ctx context.Context, ownerID int64) ([]model.TimelinePoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT (created_at AT TIME ZONE 'UTC')::date AS day, COUNT(*)
		 FROM referrals
		 WHERE owner_id = $1
		 GROUP BY day
		 ORDER BY day`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select timeline: %w", err)
	}
	defer rows.Close()

	var res []model.TimelinePoint
	for rows.Next() {
		var p model.TimelinePoint
		if err := rows.Scan(&p.Date, &p.Count); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetTopReferrers возвращает владельцев по убыванию числа использованных кодов. limit <= 0 снимает ограничение.
func (r *PostgresRepository) GetTopReferrers(ctx context.Context, limit int) ([]model.TopReferrer, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT r.owner_id, u.login, COUNT(*) AS successful
		 FROM referrals r
		 JOIN users u ON u.id = r.owner_id
		 WHERE r.redeemed_by IS NOT NULL
		 GROUP BY r.owner_id, u.login
		 ORDER BY successful DESC, r.owner_id
		 LIMIT $1`,
		lim,
	)
	if err != nil {
		return nil, fmt.Errorf("select top referrers: %w", err)
	}
	defer rows.Close()

	var res []model.TopReferrer
	for rows.Next() {
		var t model.TopReferrer
		if err := rows.Scan(&t.OwnerID, &t.Login, &t.SuccessfulReferrals); err != nil {
			return nil, fmt.Errorf("scan top referrer: %w", err)
		}
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// activeRewardConfig возвращает активное правило для события; при нескольких активных
// выбирается созданное первым. nil без ошибки означает, что правила нет.
func activeRewardConfig(ctx context.Context, q querier, trigger model.TriggerType) (*model.RewardConfig, error) {
	cfg, err := scanRewardConfig(q.QueryRow(ctx,
		`SELECT `+rewardConfigColumns+`
		 FROM reward_configs
		 WHERE trigger_type = $1 AND active
		 ORDER BY id
		 LIMIT 1`,
		string(trigger),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select reward config: %w", err)
	}
	return cfg, nil
}

// ListRewardConfigs возвращает все правила начисления.
func (r *PostgresRepository) ListRewardConfigs(ctx context.Context) ([]model.RewardConfig, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+rewardConfigColumns+` FROM reward_configs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select reward configs: %w", err)
	}
	defer rows.Close()

	var res []model.RewardConfig
	for rows.Next() {
		cfg, err := scanRewardConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward config: %w", err)
		}
		res = append(res, *cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateRewardConfig сохраняет новое правило начисления.
func (r *PostgresRepository) CreateRewardConfig(ctx context.Context, cfg model.RewardConfig) (*model.RewardConfig, error) {
	created, err := scanRewardConfig(r.pool.QueryRow(ctx,
		`INSERT INTO reward_configs (trigger_type, value, unit, active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+rewardConfigColumns,
		string(cfg.TriggerType), cfg.Value, string(cfg.Unit), cfg.Active,
	))
	if err != nil {
		return nil, fmt.Errorf("insert reward config: %w", err)
	}
	return created, nil
}

// SetRewardConfigActive включает или выключает правило начисления.
func (r *PostgresRepository) SetRewardConfigActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE reward_configs SET active = $2 WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("update reward config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRewardConfigNotFound
	}
	return nil
}

func insertReward(ctx context.Context, q querier, entry model.RewardEntry) (*model.RewardEntry, error) {
	created, err := scanReward(q.QueryRow(ctx,
		`INSERT INTO reward_entries (beneficiary_id, referral_id, trigger_type, value, unit, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+rewardColumns,
		entry.BeneficiaryID, entry.ReferralID, string(entry.TriggerType), entry.Value, string(entry.Unit), string(entry.Status),
	))
	if err != nil {
		return nil, fmt.Errorf("insert reward: %w", err)
	}
	return created, nil
}

// TransitionReward переводит запись вознаграждения в статус to под блокировкой строки.
func (r *PostgresRepository) TransitionReward(ctx context.Context, id int64, to model.RewardStatus) (*model.RewardEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := scanReward(tx.QueryRow(ctx,
		`SELECT `+rewardColumns+` FROM reward_entries WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("lock reward: %w", err)
	}

	if err := entry.Status.Transition(to); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE reward_entries SET status = $2 WHERE id = $1`,
		id, string(to),
	); err != nil {
		return nil, fmt.Errorf("update reward: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	entry.Status = to
	return entry, nil
}

// SumRewardsByStatus возвращает сумму вознаграждений пользователя в указанном статусе.
func (r *PostgresRepository) SumRewardsByStatus(ctx context.Context, beneficiaryID int64, status model.RewardStatus) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(value), 0)
		 FROM reward_entries
		 WHERE beneficiary_id = $1 AND status = $2`,
		beneficiaryID, string(status),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum rewards: %w", err)
	}
	return total, nil
}

// GetRewardsByBeneficiary возвращает историю вознаграждений пользователя, новые первыми.
func (r *PostgresRepository) GetRewardsByBeneficiary(ctx context.Context, beneficiaryID int64) ([]model.RewardEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+rewardColumns+`
		 FROM reward_entries
		 WHERE beneficiary_id = $1
		 ORDER BY created_at DESC, id DESC`,
		beneficiaryID,
	)
	if err != nil {
		return nil, fmt.Errorf("select rewards: %w", err)
	}
	defer rows.Close()

	var res []model.RewardEntry
	for rows.Next() {
		e, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		res = append(res, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
