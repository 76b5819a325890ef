package migration

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"receiptvault/internal/app/server/config"
)

type MockMigrator struct {
	mock.Mock
}

func (m *MockMigrator) Up() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMigrator) Down() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMigrator) Close() (error, error) {
	args := m.Called()
	return args.Error(0), args.Error(1)
}

var testDB = config.DB{DatabaseURI: "postgres://localhost/receipts", Migrations: "migrations"}

func engineFor(m Migrator) MigrationEngine {
	return func(source, db string) (Migrator, error) {
		return m, nil
	}
}

func TestMigration_Up_Success(t *testing.T) {
	mockM := new(MockMigrator)
	mockM.On("Up").Return(nil)
	mockM.On("Close").Return(nil, nil)

	var gotSource, gotDB string
	engine := func(source, db string) (Migrator, error) {
		gotSource, gotDB = source, db
		return mockM, nil
	}

	err := NewMigration(testDB, engine).Up()

	assert.NoError(t, err)
	assert.Equal(t, "file://migrations", gotSource)
	assert.Equal(t, testDB.DatabaseURI, gotDB)
	mockM.AssertExpectations(t)
}

func TestMigration_Up_NoChange(t *testing.T) {
	mockM := new(MockMigrator)
	mockM.On("Up").Return(migrate.ErrNoChange)
	mockM.On("Close").Return(nil, nil)

	err := NewMigration(testDB, engineFor(mockM)).Up()

	assert.NoError(t, err)
}

func TestMigration_Up_Failure(t *testing.T) {
	mockM := new(MockMigrator)
	mockM.On("Up").Return(errors.New("syntax error at line 3"))
	mockM.On("Close").Return(nil, nil)

	err := NewMigration(testDB, engineFor(mockM)).Up()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration up")
}

func TestMigration_Down(t *testing.T) {
	mockM := new(MockMigrator)
	mockM.On("Down").Return(nil)
	mockM.On("Close").Return(nil, nil)

	err := NewMigration(testDB, engineFor(mockM)).Down()

	assert.NoError(t, err)
	mockM.AssertNotCalled(t, "Up")
}

func TestMigration_CloseErrorsSurface(t *testing.T) {
	mockM := new(MockMigrator)
	dbErr := errors.New("connection lost")
	mockM.On("Up").Return(nil)
	mockM.On("Close").Return(nil, dbErr)

	err := NewMigration(testDB, engineFor(mockM)).Up()

	assert.ErrorIs(t, err, dbErr)
}

func TestMigration_Up_EngineError(t *testing.T) {
	engine := func(source, db string) (Migrator, error) {
		return nil, errors.New("engine crash")
	}

	err := NewMigration(testDB, engine).Up()

	assert.Error(t, err)
	assert.Equal(t, "engine crash", err.Error())
}
