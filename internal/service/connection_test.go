package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
	"github.com/jobmill/jobmill/internal/mocks"
)

func newConnectionService(t *testing.T) (*mocks.MockConnectionRepository, *ConnectionService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	repo := mocks.NewMockConnectionRepository(ctrl)
	svc, err := NewConnectionService(ConnectionServiceOptions{Repo: repo})
	require.NoError(t, err)
	return repo, svc
}

func TestConnectionServiceCreate(t *testing.T) {
	repo, svc := newConnectionService(t)

	req := &model.CreateConnectionRequest{
		Name:         "reporting",
		ServerName:   "db.internal",
		DatabaseName: "reports",
		Username:     "svc",
		Password:     "pw",
	}
	repo.EXPECT().Create(gomock.Any(), req).Return(&model.Connection{ID: "c1", Name: "reporting"}, nil)

	conn, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "c1", conn.ID)
}

func TestConnectionServiceCreateValidates(t *testing.T) {
	_, svc := newConnectionService(t)

	_, err := svc.Create(context.Background(), &model.CreateConnectionRequest{Name: "no-server"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.Create(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestConnectionServiceListClampsPagination(t *testing.T) {
	repo, svc := newConnectionService(t)

	repo.EXPECT().List(gomock.Any(), 50, 0).Return(nil, nil)
	_, err := svc.List(context.Background(), 0, -3)
	require.NoError(t, err)

	repo.EXPECT().List(gomock.Any(), 1000, 10).Return(nil, nil)
	_, err = svc.List(context.Background(), 5000, 10)
	require.NoError(t, err)
}

func TestConnectionServiceDeleteNotFound(t *testing.T) {
	repo, svc := newConnectionService(t)

	repo.EXPECT().Delete(gomock.Any(), "missing").Return(false, nil)

	err := svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}
