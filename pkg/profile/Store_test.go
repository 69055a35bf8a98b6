package profile_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wostzone/wost-session/pkg/profile"
	"github.com/wostzone/wost-session/pkg/session"
)

func TestSaveAndLoad(t *testing.T) {
	logrus.Infof("--- TestSaveAndLoad ---")
	path := filepath.Join(t.TempDir(), "config", profile.DefaultProfileFile)

	// step 1 a missing file is an empty store
	store, err := profile.NewStore(path)
	require.NoError(t, err)
	assert.Empty(t, store.Names())

	// step 2 save creates the file
	p := &profile.LoginProfile{
		Name:      "office",
		Protocol:  "http",
		Host:      "localhost",
		Port:      8443,
		LoginName: "user1",
		Context:   session.ContextSelection{ApplicationContext: "sales", Locale: "en"},
		Mandatory: true,
	}
	require.NoError(t, store.Save(p))
	require.FileExists(t, path)

	// step 3 another store reads the same content
	store2, err := profile.NewStore(path)
	require.NoError(t, err)
	p2, err := store2.Get("office")
	require.NoError(t, err)
	assert.Equal(t, "sales", p2.Context.ApplicationContext)
	assert.True(t, p2.HasContext())
	assert.True(t, p2.Mandatory)

	// step 4 correlation id updates
	require.NoError(t, store2.SaveCorrelationID("office", "corr-1"))
	require.NoError(t, store.Load())
	p3, _ := store.Get("office")
	assert.Equal(t, "corr-1", p3.CorrelationID)

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, profile.ErrProfileNotFound)
	assert.ErrorIs(t, store.SaveCorrelationID("missing", "x"), profile.ErrProfileNotFound)

	require.NoError(t, store.Remove("office"))
	assert.Empty(t, store.Names())
}

func TestGetReturnsCopy(t *testing.T) {
	store, err := profile.NewStore(filepath.Join(t.TempDir(), profile.DefaultProfileFile))
	require.NoError(t, err)
	require.NoError(t, store.Save(&profile.LoginProfile{Name: "a", CorrelationID: "1"}))
	p, _ := store.Get("a")
	p.CorrelationID = "2"
	p2, _ := store.Get("a")
	assert.Equal(t, "1", p2.CorrelationID)
	assert.Error(t, store.Save(&profile.LoginProfile{}))
}

func TestInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), profile.DefaultProfileFile)
	require.NoError(t, os.WriteFile(path, []byte("profiles: [not, a, map"), 0600))
	_, err := profile.NewStore(path)
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	logrus.Infof("--- TestWatch ---")
	path := filepath.Join(t.TempDir(), profile.DefaultProfileFile)
	store, err := profile.NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(&profile.LoginProfile{Name: "office", CorrelationID: "corr-1"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var changes atomic.Int32
	err = store.Watch(ctx, func() { changes.Add(1) })
	require.NoError(t, err)

	// a second client instance issues a new correlation id
	other, err := profile.NewStore(path)
	require.NoError(t, err)
	require.NoError(t, other.SaveCorrelationID("office", "corr-2"))

	assert.Eventually(t, func() bool {
		p, err := store.Get("office")
		return err == nil && p.CorrelationID == "corr-2"
	}, 3*time.Second, 20*time.Millisecond)
	assert.Positive(t, changes.Load())
}
