package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flakestry/flakestry/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestConnectionConfigFrom(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.PostgresURL = "postgres://primary/flakestry"
	cfg.PostgresReplicaURLs = []string{"postgres://replica/flakestry"}

	got := ConnectionConfigFrom(cfg)
	assert.Equal(t, "postgres://primary/flakestry", got.PrimaryURL)
	assert.Equal(t, []string{"postgres://replica/flakestry"}, got.ReplicaURLs)
	assert.Equal(t, cfg.PostgresMaxConns, got.MaxConns)
	assert.Equal(t, cfg.PostgresMinConns, got.MinConns)
	assert.Equal(t, cfg.PostgresTimeout, got.Timeout)
	assert.Equal(t, cfg.MaxLifetime, got.MaxLifetime)
	assert.Equal(t, cfg.MaxIdleTime, got.MaxIdleTime)
}

func TestNewConnectionManager(t *testing.T) {
	t.Run("primary and replicas", func(t *testing.T) {
		primary, primaryMock := newPingMock(t)
		replica, replicaMock := newPingMock(t)
		down, downMock := newPingMock(t)

		primaryMock.ExpectPing()
		replicaMock.ExpectPing()
		downMock.ExpectPing().WillReturnError(errors.New("connection refused"))
		downMock.ExpectClose()

		dbs := map[string]*sql.DB{"primary": primary, "replica": replica, "down": down}
		open := func(url string) (*sql.DB, error) { return dbs[url], nil }

		cm, err := newConnectionManager(ConnectionConfig{
			PrimaryURL:  "primary",
			ReplicaURLs: []string{"replica", "down"},
			Timeout:     time.Second,
		}, nil, open)
		require.NoError(t, err)

		assert.Same(t, primary, cm.Primary())
		assert.Equal(t, 1, cm.ReplicaCount())
		assert.Same(t, replica, cm.Replica())
		assert.NoError(t, primaryMock.ExpectationsWereMet())
		assert.NoError(t, downMock.ExpectationsWereMet())
	})

	t.Run("unreachable primary", func(t *testing.T) {
		primary, primaryMock := newPingMock(t)
		primaryMock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm, err := newConnectionManager(ConnectionConfig{PrimaryURL: "primary"}, nil,
			func(string) (*sql.DB, error) { return primary, nil })
		assert.Error(t, err)
		assert.Nil(t, cm)
		assert.Contains(t, err.Error(), "failed to connect to primary")
	})

	t.Run("open failure", func(t *testing.T) {
		cm, err := newConnectionManager(ConnectionConfig{PrimaryURL: "primary"}, nil,
			func(string) (*sql.DB, error) { return nil, errors.New("unknown driver") })
		assert.Error(t, err)
		assert.Nil(t, cm)
		assert.Contains(t, err.Error(), "unknown driver")
	})
}

func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas - fallback to primary", func(t *testing.T) {
		primaryDB := &sql.DB{}
		cm := NewConnectionManagerFromDB(primaryDB)

		assert.Same(t, primaryDB, cm.Replica(), "Should return primary when no replicas")
	})

	t.Run("round-robin selection with multiple replicas", func(t *testing.T) {
		replica1, replica2, replica3 := &sql.DB{}, &sql.DB{}, &sql.DB{}
		cm := NewConnectionManagerFromDB(&sql.DB{}, replica1, replica2, replica3)

		selections := make(map[*sql.DB]int)
		for i := 0; i < 30; i++ {
			selections[cm.Replica()]++
		}

		assert.Equal(t, 10, selections[replica1])
		assert.Equal(t, 10, selections[replica2])
		assert.Equal(t, 10, selections[replica3])
	})

	t.Run("concurrent replica selection", func(t *testing.T) {
		replica1, replica2 := &sql.DB{}, &sql.DB{}
		cm := NewConnectionManagerFromDB(&sql.DB{}, replica1, replica2)

		var wg sync.WaitGroup
		results := make(chan *sql.DB, 100)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- cm.Replica()
			}()
		}
		wg.Wait()
		close(results)

		selections := make(map[*sql.DB]int)
		for replica := range results {
			selections[replica]++
		}
		assert.Equal(t, 50, selections[replica1])
		assert.Equal(t, 50, selections[replica2])
	})
}

func TestConnectionManager_PingReplicas(t *testing.T) {
	t.Run("healthy replicas", func(t *testing.T) {
		replica, replicaMock := newPingMock(t)
		replicaMock.ExpectPing()

		cm := NewConnectionManagerFromDB(&sql.DB{}, replica)
		assert.True(t, cm.ReplicasConfigured())
		assert.NoError(t, cm.PingReplicas(context.Background()))
	})

	t.Run("no replicas configured", func(t *testing.T) {
		cm := NewConnectionManagerFromDB(&sql.DB{})
		assert.False(t, cm.ReplicasConfigured())
		assert.NoError(t, cm.PingReplicas(context.Background()))
	})

	t.Run("some replicas unhealthy", func(t *testing.T) {
		replica1, replica1Mock := newPingMock(t)
		replica2, replica2Mock := newPingMock(t)
		replica1Mock.ExpectPing()
		replica2Mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := NewConnectionManagerFromDB(&sql.DB{}, replica1, replica2)
		assert.NoError(t, cm.PingReplicas(context.Background()))
	})

	t.Run("all replicas unhealthy", func(t *testing.T) {
		replica, replicaMock := newPingMock(t)
		replicaMock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := NewConnectionManagerFromDB(&sql.DB{}, replica)
		err := cm.PingReplicas(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all replicas unhealthy: replica-0")
	})
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	primary, _ := newPingMock(t)
	healthy, healthyMock := newPingMock(t)
	broken, brokenMock := newPingMock(t)

	healthyMock.ExpectPing()
	brokenMock.ExpectPing().WillReturnError(errors.New("connection refused"))

	cm := NewConnectionManagerFromDB(primary, healthy, broken)

	removed := cm.RemoveUnhealthyReplicas(context.Background())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, cm.ReplicaCount())
	assert.Same(t, healthy, cm.Replica())
	assert.True(t, cm.ReplicasConfigured())
	// benched, not closed
	assert.NoError(t, brokenMock.ExpectationsWereMet())
}

func TestConnectionManager_RemoveUnhealthyReplicas_DoesNotBlockReads(t *testing.T) {
	primary, _ := newPingMock(t)
	slow, slowMock := newPingMock(t)
	slowMock.ExpectPing().WillDelayFor(200 * time.Millisecond)

	cm := NewConnectionManagerFromDB(primary, slow)

	done := make(chan int, 1)
	go func() { done <- cm.RemoveUnhealthyReplicas(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	picked := make(chan *sql.DB, 1)
	go func() { picked <- cm.Replica() }()

	select {
	case db := <-picked:
		assert.Same(t, slow, db)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Replica() waited for the replica ping")
	}
	assert.Equal(t, 0, <-done)
}

func TestConnectionManager_RestoreReplicas(t *testing.T) {
	primary, primaryMock := newPingMock(t)
	flaky, flakyMock := newPingMock(t)
	lateDown, lateDownMock := newPingMock(t)
	lateUp, lateUpMock := newPingMock(t)

	primaryMock.ExpectPing()
	flakyMock.ExpectPing()
	flakyMock.ExpectPing().WillReturnError(errors.New("connection reset"))
	flakyMock.ExpectPing()
	lateDownMock.ExpectPing().WillReturnError(errors.New("connection refused"))
	lateDownMock.ExpectClose()
	lateUpMock.ExpectPing()

	lateDials := 0
	open := func(url string) (*sql.DB, error) {
		switch url {
		case "primary":
			return primary, nil
		case "flaky":
			return flaky, nil
		}
		lateDials++
		if lateDials == 1 {
			return lateDown, nil
		}
		return lateUp, nil
	}

	cm, err := newConnectionManager(ConnectionConfig{
		PrimaryURL:  "primary",
		ReplicaURLs: []string{"flaky", "late"},
		Timeout:     time.Second,
	}, nil, open)
	require.NoError(t, err)
	require.Equal(t, 1, cm.ReplicaCount())

	require.Equal(t, 1, cm.RemoveUnhealthyReplicas(context.Background()))
	assert.Equal(t, 0, cm.ReplicaCount())
	assert.Same(t, primary, cm.Replica())
	err = cm.PingReplicas(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no replicas in rotation")

	assert.Equal(t, 2, cm.RestoreReplicas(context.Background()))
	assert.Equal(t, 2, cm.ReplicaCount())
	assert.Equal(t, 0, cm.RestoreReplicas(context.Background()))

	for _, mock := range []sqlmock.Sqlmock{primaryMock, flakyMock, lateDownMock, lateUpMock} {
		assert.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestConnectionManager_Stats(t *testing.T) {
	primary, _ := newPingMock(t)
	replica, _ := newPingMock(t)

	stats := NewConnectionManagerFromDB(primary, replica).Stats()
	assert.Len(t, stats.Replicas, 1)
}

func TestConnectionManager_Close(t *testing.T) {
	primary, primaryMock := newPingMock(t)
	replica, replicaMock := newPingMock(t)
	primaryMock.ExpectClose()
	replicaMock.ExpectClose().WillReturnError(errors.New("close failed"))

	cm := NewConnectionManagerFromDB(primary, replica)
	err := cm.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replica-0 close error")
	assert.Equal(t, 0, cm.ReplicaCount())
}
