package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authcore/client"
)

func newStore(t *testing.T) (*FSCredentialStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewFSCredentialStore(path, "")
	require.NoError(t, err)
	return store, path
}

func sessionCred(token string) *client.ServerCredential {
	now := time.Now().UTC().Truncate(time.Second)
	return &client.ServerCredential{
		SessionToken: token,
		UserID:       "u1",
		UserEmail:    "ann@example.com",
		ExpiresAt:    now.Add(7 * 24 * time.Hour),
		CreatedAt:    now,
	}
}

func TestFSCredentialStore_GetSet(t *testing.T) {
	store, _ := newStore(t)

	cred, err := store.GetCredential("http://localhost:3000")
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, store.SetCredential("http://localhost:3000", sessionCred("tok-1")))
	cred, err = store.GetCredential("http://localhost:3000")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "tok-1", cred.SessionToken)
	assert.Equal(t, "ann@example.com", cred.UserEmail)

	require.NoError(t, store.SetCredential("http://localhost:3000", nil))
	cred, err = store.GetCredential("http://localhost:3000")
	require.NoError(t, err)
	assert.Nil(t, cred, "a nil credential removes the entry")
}

func TestFSCredentialStore_ServerKeys(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, store.SetCredential("http://LOCALHOST:3000/api/auth", sessionCred("tok")))

	for _, url := range []string{"http://localhost:3000", "http://localhost:3000/other/path", "HTTP://localhost:3000/"} {
		cred, err := store.GetCredential(url)
		require.NoError(t, err)
		assert.NotNil(t, cred, url)
	}
	cred, err := store.GetCredential("https://localhost:3000")
	require.NoError(t, err)
	assert.Nil(t, cred, "the scheme is part of the key")

	require.NoError(t, store.SetCredential("auth.example.com", sessionCred("tok")))
	servers, err := store.ListServers()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:3000", "https://auth.example.com"}, servers)

	_, err = store.GetCredential("https://")
	assert.Error(t, err)
}

func TestFSCredentialStore_Remove(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, store.SetCredential("http://localhost:3000", sessionCred("a")))
	require.NoError(t, store.SetCredential("http://localhost:4000", sessionCred("b")))

	require.NoError(t, store.RemoveCredential("http://localhost:3000"))
	require.NoError(t, store.RemoveCredential("http://localhost:5000"), "removing a missing server is not an error")

	servers, err := store.ListServers()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:4000"}, servers)
}

func TestFSCredentialStore_ReturnsCopies(t *testing.T) {
	store, _ := newStore(t)
	in := sessionCred("tok")
	require.NoError(t, store.SetCredential("http://localhost:3000", in))
	in.SessionToken = "changed after set"

	cred, _ := store.GetCredential("http://localhost:3000")
	cred.SessionToken = "changed after get"

	again, _ := store.GetCredential("http://localhost:3000")
	assert.Equal(t, "tok", again.SessionToken)
}

func TestFSCredentialStore_SaveAndReload(t *testing.T) {
	store, path := newStore(t)
	want := sessionCred("persisted")
	require.NoError(t, store.SetCredential("http://localhost:3000", want))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing is written before Save")

	require.NoError(t, store.Save())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := NewFSCredentialStore(path, "")
	require.NoError(t, err)
	got, err := reopened.GetCredential("http://localhost:3000")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.SessionToken, got.SessionToken)
	assert.Equal(t, want.UserID, got.UserID)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
}

func TestFSCredentialStore_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSCredentialStore(filepath.Join(dir, "nested", "credentials.json"), "")
	require.NoError(t, err)

	require.NoError(t, store.Save(), "saving without changes is a no-op")
	_, err = os.Stat(filepath.Join(dir, "nested"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.SetCredential("http://localhost:3000", sessionCred("tok")))
	require.NoError(t, store.Save())

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files are left behind")
	assert.Equal(t, "credentials.json", entries[0].Name())
}

func TestFSCredentialStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err := NewFSCredentialStore(path, "")
	assert.Error(t, err)
}

func TestFSCredentialStore_DefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	store, err := NewFSCredentialStore("", "")
	require.NoError(t, err)
	assert.Equal(t, "credentials.json", filepath.Base(store.Path()))
	assert.Equal(t, "authcore", filepath.Base(filepath.Dir(store.Path())))

	store, err = NewFSCredentialStore("", "my-cli")
	require.NoError(t, err)
	assert.Equal(t, "my-cli", filepath.Base(filepath.Dir(store.Path())))
}
