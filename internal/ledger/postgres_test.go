package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWaitForDatabaseGivesUp(t *testing.T) {
	db, err := OpenPostgres("host=127.0.0.1 port=1 dbname=banco user=postgres sslmode=disable connect_timeout=1", 2)
	require.NoError(t, err)
	defer db.Close()

	start := time.Now()
	err = WaitForDatabase(context.Background(), db, zaptest.NewLogger(t), 300*time.Millisecond)

	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitForDatabaseHonorsContext(t *testing.T) {
	db, err := OpenPostgres("host=127.0.0.1 port=1 dbname=banco user=postgres sslmode=disable connect_timeout=1", 2)
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = WaitForDatabase(ctx, db, zaptest.NewLogger(t), time.Minute)
	assert.Error(t, err)
}
