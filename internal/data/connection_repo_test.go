package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmill/jobmill/internal/data/cryptoutil"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
	"github.com/jobmill/jobmill/internal/testutil"
)

func testEncryptor(t *testing.T) cryptoutil.Encryptor {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := cryptoutil.NewAESGCMEncryptor(key)
	require.NoError(t, err)
	return enc
}

func TestConnectionRepo_Create_Get_List_Update_Delete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewConnectionRepo(db, testEncryptor(t))

		// create
		req := testutil.ConnectionRequest(fmt.Sprintf("conn-%d", time.Now().UnixNano()))
		c, err := repo.Create(ctx, req)
		require.NoError(t, err)
		require.NotEmpty(t, c.ID)
		assert.Equal(t, model.ConnectionDriverPostgres, c.Driver)
		assert.Equal(t, 5432, c.Port)
		assert.Equal(t, 30, c.ConnectionTimeout)
		assert.Equal(t, 300, c.CommandTimeout)
		assert.True(t, c.IsActive)
		assert.Equal(t, "jobmill", c.Password)

		// the table never sees the plaintext
		var stored string
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT password FROM user_connections WHERE connection_id = $1`, c.ID,
		).Scan(&stored))
		assert.NotEqual(t, "jobmill", stored)
		assert.True(t, strings.HasPrefix(stored, "v1:"))

		// get by id decrypts
		got, err := repo.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "jobmill", got.Password)

		// get by name
		byName, err := repo.GetByName(ctx, c.Name)
		require.NoError(t, err)
		assert.Equal(t, c.ID, byName.ID)

		// list
		lst, err := repo.List(ctx, 10, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(lst), 1)

		// update - rotate password, deactivate
		updated, err := repo.Update(ctx, c.ID, model.UpdateConnectionRequest{
			Password:    testutil.StringPtr("rotated"),
			Description: testutil.StringPtr("after rotation"),
			IsActive:    testutil.BoolPtr(false),
		})
		require.NoError(t, err)
		assert.Equal(t, "rotated", updated.Password)
		assert.Equal(t, "after rotation", updated.Description)
		assert.False(t, updated.IsActive)

		// clearing the password leaves no ciphertext behind
		cleared, err := repo.Update(ctx, c.ID, model.UpdateConnectionRequest{
			Password: testutil.StringPtr(""),
		})
		require.NoError(t, err)
		assert.Empty(t, cleared.Password)

		// delete
		deleted, err := repo.Delete(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		_, err = repo.GetByID(ctx, c.ID)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestConnectionRepo_DuplicateName(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewConnectionRepo(db, cryptoutil.NoopEncryptor{})

		name := fmt.Sprintf("dup-conn-%d", time.Now().UnixNano())
		_, err := repo.Create(ctx, testutil.ConnectionRequest(name))
		require.NoError(t, err)

		_, err = repo.Create(ctx, testutil.ConnectionRequest(name))
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})
}

func TestConnectionRepo_Create_ValidationErrors(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewConnectionRepo(db, cryptoutil.NoopEncryptor{})

		// empty name
		_, err := repo.Create(ctx, &model.CreateConnectionRequest{
			ServerName:   "localhost",
			DatabaseName: "db",
			Username:     "u",
		})
		require.Error(t, err)

		// missing server
		_, err = repo.Create(ctx, &model.CreateConnectionRequest{
			Name:         "c",
			DatabaseName: "db",
			Username:     "u",
		})
		require.Error(t, err)

		// missing database
		_, err = repo.Create(ctx, &model.CreateConnectionRequest{
			Name:       "c",
			ServerName: "localhost",
			Username:   "u",
		})
		require.Error(t, err)

		// username required unless trusted
		_, err = repo.Create(ctx, &model.CreateConnectionRequest{
			Name:         "c",
			ServerName:   "localhost",
			DatabaseName: "db",
		})
		require.Error(t, err)

		// invalid driver
		_, err = repo.Create(ctx, &model.CreateConnectionRequest{
			Name:         "c",
			ServerName:   "localhost",
			DatabaseName: "db",
			Username:     "u",
			Driver:       model.ConnectionDriver("oracle"),
		})
		require.Error(t, err)

		// nil request
		_, err = repo.Create(ctx, nil)
		require.Error(t, err)
	})
}

func TestConnectionRepo_SQLServerDefaults(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewConnectionRepo(db, cryptoutil.NoopEncryptor{})

		c, err := repo.Create(ctx, &model.CreateConnectionRequest{
			Name:                   fmt.Sprintf("mssql-%d", time.Now().UnixNano()),
			ServerName:             "sqlserver.internal",
			DatabaseName:           "reporting",
			TrustedConnection:      true,
			Driver:                 model.ConnectionDriverSQLServer,
			Encrypt:                true,
			TrustServerCertificate: true,
		})
		require.NoError(t, err)
		assert.Equal(t, 1433, c.Port)
		assert.Equal(t, model.ConnectionDriverSQLServer, c.Driver)
		assert.True(t, c.TrustedConnection)
		assert.True(t, c.Encrypt)
		assert.True(t, c.TrustServerCertificate)
		assert.Empty(t, c.Password)
	})
}
