// Package repository содержит unit тесты для InventoryRepository.
package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// =====================================
// Вспомогательные функции
// =====================================

// setupMockDB создаёт мок базы данных с GORM.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

// =====================================
// Тесты Get
// =====================================

func TestInventoryGet(t *testing.T) {
	t.Run("успешное чтение", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		reserved := int32(3)
		rows := sqlmock.NewRows([]string{"product_id", "warehouse_id", "quantity", "reserved", "version", "updated_at"}).
			AddRow("P1", "W1", 100, reserved, 5, time.Now())

		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `inventory`")).
			WithArgs("P1", "W1", 1).
			WillReturnRows(rows)

		repo := NewInventoryRepository(gormDB)
		inv, err := repo.Get(context.Background(), "P1", "W1")

		require.NoError(t, err)
		assert.Equal(t, int32(100), inv.Quantity)
		assert.Equal(t, int32(3), inv.Reserved)
		assert.Equal(t, int64(5), inv.Version)
		assert.Equal(t, int32(97), inv.Available())
	})

	t.Run("NULL reserved трактуется как 0", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		rows := sqlmock.NewRows([]string{"product_id", "warehouse_id", "quantity", "reserved", "version", "updated_at"}).
			AddRow("P1", "W1", 50, nil, 0, time.Now())

		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `inventory`")).
			WithArgs("P1", "W1", 1).
			WillReturnRows(rows)

		repo := NewInventoryRepository(gormDB)
		inv, err := repo.Get(context.Background(), "P1", "W1")

		require.NoError(t, err)
		assert.Equal(t, int32(0), inv.Reserved)
		assert.Equal(t, int32(50), inv.Available())
	})

	t.Run("строка не найдена", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `inventory`")).
			WithArgs("P-missing", "W1", 1).
			WillReturnError(gorm.ErrRecordNotFound)

		repo := NewInventoryRepository(gormDB)
		_, err := repo.Get(context.Background(), "P-missing", "W1")

		assert.ErrorIs(t, err, domain.ErrInventoryNotFound)
	})
}

// =====================================
// Тесты Reserve
// =====================================

func TestInventoryReserve(t *testing.T) {
	t.Run("успешное резервирование", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `inventory` SET")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		repo := NewInventoryRepository(gormDB)
		err := repo.Reserve(context.Background(), "P1", "W1", 2, 5)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("конфликт версии или нехватка остатка", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		// Предикат не выполнился: 0 изменённых строк
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `inventory` SET")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		repo := NewInventoryRepository(gormDB)
		err := repo.Reserve(context.Background(), "P1", "W1", 2, 4)

		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	})

	t.Run("неположительное количество", func(t *testing.T) {
		gormDB, _, cleanup := setupMockDB(t)
		defer cleanup()

		repo := NewInventoryRepository(gormDB)
		err := repo.Reserve(context.Background(), "P1", "W1", 0, 5)

		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("ошибка БД", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `inventory` SET")).
			WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		repo := NewInventoryRepository(gormDB)
		err := repo.Reserve(context.Background(), "P1", "W1", 2, 5)

		assert.ErrorIs(t, err, sql.ErrConnDone)
	})
}

// =====================================
// Тесты Release / ConfirmShipment / Restock
// =====================================

func TestInventoryRelease(t *testing.T) {
	t.Run("успешный возврат резерва", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `inventory` SET")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		repo := NewInventoryRepository(gormDB)
		err := repo.Release(context.Background(), "P1", "W1", 2, 6)

		require.NoError(t, err)
	})

	t.Run("резерв меньше возвращаемого", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `inventory` SET")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		repo := NewInventoryRepository(gormDB)
		err := repo.Release(context.Background(), "P1", "W1", 99, 6)

		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	})
}

func TestInventoryConfirmShipment(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `inventory` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewInventoryRepository(gormDB)
	err := repo.ConfirmShipment(context.Background(), "P1", "W1", 2, 7)

	require.NoError(t, err)
}

func TestInventoryRestock(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `inventory` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewInventoryRepository(gormDB)
	err := repo.Restock(context.Background(), "P1", "W1", 50, 7)

	require.NoError(t, err)
}

// =====================================
// Тесты ListByProduct
// =====================================

func TestInventoryListByProduct(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"product_id", "warehouse_id", "quantity", "reserved", "version", "updated_at"}).
		AddRow("P1", "W1", 10, 2, 3, time.Now()).
		AddRow("P1", "W2", 5, nil, 1, time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `inventory`")).
		WithArgs("P1").
		WillReturnRows(rows)

	repo := NewInventoryRepository(gormDB)
	list, err := repo.ListByProduct(context.Background(), "P1")

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "W1", list[0].WarehouseID)
	assert.Equal(t, int32(8), list[0].Available())
	assert.Equal(t, "W2", list[1].WarehouseID)
	assert.Equal(t, int32(5), list[1].Available())
}
