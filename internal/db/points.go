package db

import (
	"context"
	_ "embed"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Клиенты, автомобили, счета баллов и транзакции в Postgres
type PointsDB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPointsDB(ctx context.Context, dsn string, logger *zap.Logger) (db *PointsDB, err error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &PointsDB{pool, logger}, nil
}

func (p *PointsDB) Close() {
	p.pool.Close()
}

// Migrate создает таблицы, если их нет
func (p *PointsDB) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	if err != nil {
		p.logger.Error("Migrate error", zap.Error(err))
		return models.Persistence(err, "migrate")
	}
	return nil
}

func (p *PointsDB) logSQL(service string, query string, args []any, err error) {
	p.logger.Error("SQL error",
		zap.String("service", service),
		zap.Error(err),
		zap.String("query", query),
		zap.Any("args", args),
	)
}

func rollback(ctx context.Context, tx pgx.Tx, logger *zap.Logger) {
	err := tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Warn("Rollback error", zap.Error(err))
	}
}

// коды ошибок Postgres, которые означают конфликт записи счета
const (
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// ledgerError - ошибка записи счета: конфликт или сбой хранилища
func ledgerError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgCheckViolation, pgSerializationFailure, pgDeadlockDetected:
			return errors.Wrapf(models.ErrLedgerWriteConflict, "%s: %s", op, pgErr.Message)
		}
	}
	return models.Persistence(err, op)
}

// Поиск клиента по телефону и автомобиля этого же клиента
func (p *PointsDB) FindAccount(ctx context.Context, mobile string, vehicleNumber string) (models.Account, error) {
	sql, args, err := psql.Select(
		"c.id", "c.name", "c.mobile", "v.id", "v.vehicle_number", "v.vehicle_type",
		"COALESCE(lp.total_points - lp.redeemed_points, 0)").
		From("customers c").
		Join("vehicles v ON v.customer_id = c.id").
		LeftJoin("loyalty_points lp ON lp.customer_id = c.id AND lp.vehicle_id = v.id").
		Where(sq.Eq{"c.mobile": mobile, "v.vehicle_number": vehicleNumber}).
		ToSql()
	if err != nil {
		return models.Account{}, err
	}

	var account models.Account
	var name pgtype.Text
	var vtype string
	err = p.pool.QueryRow(ctx, sql, args...).Scan(
		&account.CustomerID, &name, &account.Mobile, &account.VehicleID,
		&account.VehicleNumber, &vtype, &account.AvailablePoints)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, models.ErrAccountNotFound
		}
		p.logSQL("FindAccount", sql, args, err)
		return models.Account{}, models.Persistence(err, "find account")
	}
	account.Name = name.String
	account.VehicleType = models.VehicleType(vtype)
	return account, nil
}

// Регистрация: клиент по телефону (существующий или новый), затем автомобиль и его счет
func (p *PointsDB) Register(ctx context.Context, reg models.Registration) (result models.RegistrationResult, err error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return result, models.Persistence(err, "begin registration")
	}
	defer rollback(ctx, tx, p.logger)

	// клиент: вставка или существующий (xmax = 0 - строка вставлена сейчас)
	sql, args, err := psql.Insert("customers").
		Columns("id", "mobile", "name", "email").
		Values(uuid.New(), reg.Mobile, nullText(reg.Name), nullText(reg.Email)).
		Suffix("ON CONFLICT (mobile) DO UPDATE SET mobile = EXCLUDED.mobile RETURNING id, (xmax = 0)").
		ToSql()
	if err != nil {
		return result, err
	}
	err = tx.QueryRow(ctx, sql, args...).Scan(&result.CustomerID, &result.NewCustomer)
	if err != nil {
		p.logSQL("Register", sql, args, err)
		return result, models.Persistence(err, "upsert customer")
	}

	// автомобиль: дубликат в рамках клиента
	sql, args, err = psql.Insert("vehicles").
		Columns("id", "customer_id", "vehicle_number", "vehicle_type").
		Values(uuid.New(), result.CustomerID, reg.VehicleNumber, string(reg.VehicleType)).
		Suffix("ON CONFLICT (customer_id, vehicle_number) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return result, err
	}
	err = tx.QueryRow(ctx, sql, args...).Scan(&result.VehicleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RegistrationResult{}, errors.Wrapf(models.ErrDuplicateVehicle, "vehicle %s", reg.VehicleNumber)
		}
		p.logSQL("Register", sql, args, err)
		return result, models.Persistence(err, "insert vehicle")
	}

	// пустой счет баллов
	sql, args, err = psql.Insert("loyalty_points").
		Columns("id", "customer_id", "vehicle_id").
		Values(uuid.New(), result.CustomerID, result.VehicleID).
		Suffix("ON CONFLICT (customer_id, vehicle_id) DO NOTHING").
		ToSql()
	if err != nil {
		return result, err
	}
	_, err = tx.Exec(ctx, sql, args...)
	if err != nil {
		p.logSQL("Register", sql, args, err)
		return result, models.Persistence(err, "insert ledger")
	}

	err = tx.Commit(ctx)
	if err != nil {
		return result, models.Persistence(err, "commit registration")
	}
	return result, nil
}

// Счет баллов. Если строки нет - пустой счет.
func (p *PointsDB) GetLedger(ctx context.Context, customerId uuid.UUID, vehicleId uuid.UUID) (models.LedgerEntry, error) {
	entry := models.LedgerEntry{CustomerID: customerId, VehicleID: vehicleId}
	sql, args, err := psql.Select("total_points", "redeemed_points", "last_updated").
		From("loyalty_points").
		Where(sq.Eq{"customer_id": customerId, "vehicle_id": vehicleId}).
		ToSql()
	if err != nil {
		return entry, err
	}
	err = p.pool.QueryRow(ctx, sql, args...).Scan(&entry.TotalPoints, &entry.RedeemedPoints, &entry.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entry, nil
		}
		p.logSQL("GetLedger", sql, args, err)
		return entry, models.Persistence(err, "get ledger")
	}
	return entry, nil
}

// Record - транзакция и изменение счета в одной транзакции БД.
// Списание условное: строка счета меняется, только если доступно >= списываемого.
// Повтор SettlementID откатывает изменение счета и возвращает записанную транзакцию.
func (p *PointsDB) Record(ctx context.Context, tnx models.Transaction) (models.Transaction, models.LedgerEntry, error) {
	var entry models.LedgerEntry
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return tnx, entry, models.Persistence(err, "begin record")
	}
	defer rollback(ctx, tx, p.logger)

	// счет мог не создаться при регистрации
	sql, args, err := psql.Insert("loyalty_points").
		Columns("id", "customer_id", "vehicle_id").
		Values(uuid.New(), tnx.CustomerID, tnx.VehicleID).
		Suffix("ON CONFLICT (customer_id, vehicle_id) DO NOTHING").
		ToSql()
	if err != nil {
		return tnx, entry, err
	}
	_, err = tx.Exec(ctx, sql, args...)
	if err != nil {
		p.logSQL("Record", sql, args, err)
		return tnx, entry, models.Persistence(err, "ensure ledger")
	}

	// условное обновление счета
	sql, args, err = psql.Update("loyalty_points").
		Set("total_points", sq.Expr("total_points + ?", tnx.PointsEarned)).
		Set("redeemed_points", sq.Expr("redeemed_points + ?", tnx.PointsRedeemed)).
		Set("last_updated", sq.Expr("now()")).
		Where(sq.Eq{"customer_id": tnx.CustomerID, "vehicle_id": tnx.VehicleID}).
		Where(sq.Expr("total_points - redeemed_points >= ?", tnx.PointsRedeemed)).
		Suffix("RETURNING total_points, redeemed_points, last_updated").
		ToSql()
	if err != nil {
		return tnx, entry, err
	}
	err = tx.QueryRow(ctx, sql, args...).Scan(&entry.TotalPoints, &entry.RedeemedPoints, &entry.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tnx, entry, errors.Wrapf(models.ErrLedgerWriteConflict,
				"customer %s vehicle %s redeem %d", tnx.CustomerID, tnx.VehicleID, tnx.PointsRedeemed)
		}
		p.logSQL("Record", sql, args, err)
		return tnx, entry, ledgerError(err, "update ledger")
	}
	entry.CustomerID = tnx.CustomerID
	entry.VehicleID = tnx.VehicleID

	// транзакция
	tnx.ID = uuid.New()
	tnx.BalanceAfter = entry.Available()
	sql, args, err = psql.Insert("transactions").
		Columns("id", "settlement_id", "customer_id", "vehicle_id", "fuel_staff_id", "fuel_type", "liters",
			"amount_paid", "points_earned", "points_redeemed", "discount_applied", "balance_after").
		Values(tnx.ID, nullText(tnx.SettlementID), tnx.CustomerID, tnx.VehicleID, tnx.StaffID, string(tnx.FuelType), tnx.Liters,
			tnx.AmountPaid, tnx.PointsEarned, tnx.PointsRedeemed, tnx.DiscountApplied, tnx.BalanceAfter).
		Suffix("ON CONFLICT (settlement_id) DO NOTHING RETURNING transaction_date").
		ToSql()
	if err != nil {
		return tnx, entry, err
	}
	err = tx.QueryRow(ctx, sql, args...).Scan(&tnx.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// расчет уже записан, изменение счета откатывается
			rollback(ctx, tx, p.logger)
			return p.replayed(ctx, tnx.SettlementID)
		}
		p.logSQL("Record", sql, args, err)
		return tnx, entry, models.Persistence(err, "insert transaction")
	}

	err = tx.Commit(ctx)
	if err != nil {
		return tnx, entry, ledgerError(err, "commit record")
	}
	return tnx, entry, nil
}

func (p *PointsDB) replayed(ctx context.Context, settlementId string) (models.Transaction, models.LedgerEntry, error) {
	stored, err := p.FindSettlement(ctx, settlementId)
	if err != nil {
		return stored, models.LedgerEntry{}, err
	}
	entry, err := p.GetLedger(ctx, stored.CustomerID, stored.VehicleID)
	if err != nil {
		return stored, entry, err
	}
	return stored, entry, errors.Wrapf(models.ErrSettlementReplayed, "settlement %s", settlementId)
}

// Транзакция по ключу расчета терминала
func (p *PointsDB) FindSettlement(ctx context.Context, settlementId string) (models.Transaction, error) {
	var tnx models.Transaction
	if settlementId == "" {
		return tnx, models.ErrNotFound
	}
	sql, args, err := psql.Select(transactionColumns...).
		From("transactions t").
		Where(sq.Eq{"t.settlement_id": settlementId}).
		ToSql()
	if err != nil {
		return tnx, err
	}
	err = scanTransaction(p.pool.QueryRow(ctx, sql, args...), &tnx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tnx, errors.Wrapf(models.ErrNotFound, "settlement %s", settlementId)
		}
		p.logSQL("FindSettlement", sql, args, err)
		return tnx, models.Persistence(err, "find settlement")
	}
	return tnx, nil
}

var transactionColumns = []string{
	"t.id", "t.settlement_id", "t.customer_id", "t.vehicle_id", "t.fuel_staff_id", "t.fuel_type", "t.liters",
	"t.amount_paid", "t.points_earned", "t.points_redeemed", "t.discount_applied", "t.balance_after", "t.transaction_date",
}

func scanTransaction(row pgx.Row, t *models.Transaction, extra ...any) error {
	var fuel string
	var settlement pgtype.Text
	dest := []any{&t.ID, &settlement, &t.CustomerID, &t.VehicleID, &t.StaffID, &fuel, &t.Liters,
		&t.AmountPaid, &t.PointsEarned, &t.PointsRedeemed, &t.DiscountApplied, &t.BalanceAfter, &t.CreatedAt}
	err := row.Scan(append(dest, extra...)...)
	t.SettlementID = settlement.String
	t.FuelType = models.FuelType(fuel)
	return err
}

// Транзакции с клиентом и автомобилем, новые первыми
func (p *PointsDB) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, error) {
	query := psql.Select(append(transactionColumns, "c.name", "c.mobile", "v.vehicle_number", "v.vehicle_type")...).
		From("transactions t").
		Join("customers c ON c.id = t.customer_id").
		Join("vehicles v ON v.id = t.vehicle_id").
		OrderBy("t.transaction_date DESC")
	if filter.FuelType != "" {
		query = query.Where(sq.Eq{"t.fuel_type": string(filter.FuelType)})
	}
	if !filter.From.IsZero() {
		query = query.Where(sq.GtOrEq{"t.transaction_date": filter.From})
	}
	if !filter.To.IsZero() {
		query = query.Where(sq.LtOrEq{"t.transaction_date": filter.To})
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + likeEscape(search) + "%"
		query = query.Where(sq.Or{
			sq.Like{"c.mobile": like},
			sq.ILike{"c.name": like},
			sq.ILike{"v.vehicle_number": like},
		})
	}
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		p.logSQL("ListTransactions", sql, args, err)
		return nil, models.Persistence(err, "list transactions")
	}
	defer rows.Close()

	var views []models.TransactionView
	for rows.Next() {
		var v models.TransactionView
		var name pgtype.Text
		var vtype string
		err = scanTransaction(rows, &v.Transaction, &name, &v.Mobile, &v.VehicleNumber, &vtype)
		if err != nil {
			return nil, models.Persistence(err, "scan transaction")
		}
		v.CustomerName = name.String
		v.VehicleType = models.VehicleType(vtype)
		views = append(views, v)
	}
	if err = rows.Err(); err != nil {
		return nil, models.Persistence(err, "list transactions")
	}
	return views, nil
}

// Клиенты с баллами и количеством транзакций
func (p *PointsDB) ListCustomers(ctx context.Context) ([]models.CustomerSummary, error) {
	sql, args, err := psql.Select("c.id", "c.mobile", "c.name", "c.email", "c.created_at",
		"COALESCE((SELECT SUM(lp.total_points - lp.redeemed_points) FROM loyalty_points lp WHERE lp.customer_id = c.id), 0)::bigint",
		"(SELECT COUNT(*) FROM transactions t WHERE t.customer_id = c.id)::int").
		From("customers c").
		OrderBy("c.created_at DESC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		p.logSQL("ListCustomers", sql, args, err)
		return nil, models.Persistence(err, "list customers")
	}
	defer rows.Close()

	var customers []models.CustomerSummary
	for rows.Next() {
		var c models.CustomerSummary
		var name, email pgtype.Text
		err = rows.Scan(&c.ID, &c.Mobile, &name, &email, &c.CreatedAt, &c.TotalPoints, &c.TotalTransactions)
		if err != nil {
			return nil, models.Persistence(err, "scan customer")
		}
		c.Name = name.String
		c.Email = email.String
		customers = append(customers, c)
	}
	if err = rows.Err(); err != nil {
		return nil, models.Persistence(err, "list customers")
	}
	return customers, nil
}

func (p *PointsDB) CountCustomers(ctx context.Context) (count int, err error) {
	err = p.pool.QueryRow(ctx, "SELECT COUNT(*)::int FROM customers").Scan(&count)
	if err != nil {
		return 0, models.Persistence(err, "count customers")
	}
	return count, nil
}

// Сумма доступных баллов по всем счетам
func (p *PointsDB) OutstandingPoints(ctx context.Context) (points int64, err error) {
	err = p.pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(total_points - redeemed_points), 0)::bigint FROM loyalty_points").Scan(&points)
	if err != nil {
		return 0, models.Persistence(err, "outstanding points")
	}
	return points, nil
}

// История транзакций счета за период
func (p *PointsDB) AccountTransactions(ctx context.Context, customerId uuid.UUID, vehicleId uuid.UUID, from time.Time, to time.Time) ([]models.Transaction, error) {
	sql, args, err := psql.Select(transactionColumns...).
		From("transactions t").
		Where(sq.Eq{"t.customer_id": customerId, "t.vehicle_id": vehicleId}).
		Where(sq.GtOrEq{"t.transaction_date": from}).
		Where(sq.LtOrEq{"t.transaction_date": to}).
		OrderBy("t.transaction_date").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		p.logSQL("AccountTransactions", sql, args, err)
		return nil, models.Persistence(err, "account transactions")
	}
	defer rows.Close()

	var tnxs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err = scanTransaction(rows, &t); err != nil {
			return nil, models.Persistence(err, "scan transaction")
		}
		tnxs = append(tnxs, t)
	}
	if err = rows.Err(); err != nil {
		return nil, models.Persistence(err, "account transactions")
	}
	return tnxs, nil
}

// экранирование шаблона LIKE, escape-символ по умолчанию - обратная косая
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func likeEscape(s string) string {
	return likeEscaper.Replace(s)
}

func nullText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Status: pgtype.Null}
	}
	return pgtype.Text{String: s, Status: pgtype.Present}
}
