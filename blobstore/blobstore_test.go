package blobstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func TestLinks(t *testing.T) {
	require.Equal(t, "https://nftstorage.link/ipfs/bafy/", Link("bafy"))
	require.Equal(t, "https://nftstorage.link/ipfs/bafy/0.png", FileLink("bafy", "0.png"))
}

func TestMemoryStoreIsContentAddressed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	a, err := store.StoreDirectory(ctx, []NamedBlob{{Name: "0.png", Data: []byte("x")}, {Name: "1.png", Data: []byte("y")}})
	require.NoError(t, err)
	b, err := store.StoreDirectory(ctx, []NamedBlob{{Name: "1.png", Data: []byte("y")}, {Name: "0.png", Data: []byte("x")}})
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := store.StoreDirectory(ctx, []NamedBlob{{Name: "0.png", Data: []byte("z")}})
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	files, ok := store.Directory(a)
	require.True(t, ok)
	require.Len(t, files, 2)
	require.Equal(t, 3, store.Calls)

	_, err = store.StoreDirectory(ctx, nil)
	require.Error(t, err)
}

func TestNFTStorageUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		reader, err := r.MultipartReader()
		require.NoError(t, err)
		var names []string
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			names = append(names, part.FileName())
		}
		require.Equal(t, []string{"0.png", "1.png"}, names)
		_, _ = io.WriteString(w, `{"ok":true,"value":{"cid":"bafyroot"}}`)
	}))
	t.Cleanup(srv.Close)

	store, err := NewNFTStorage(srv.URL, "key")
	require.NoError(t, err)
	cid, err := store.StoreDirectory(context.Background(), []NamedBlob{
		{Name: "0.png", ContentType: "image/png", Data: []byte("a")},
		{Name: "1.png", Data: []byte("b")},
	})
	require.NoError(t, err)
	require.Equal(t, "bafyroot", cid)
}

func TestNFTStorageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"ok":false,"error":{"message":"invalid token"}}`)
	}))
	t.Cleanup(srv.Close)

	store, err := NewNFTStorage(srv.URL, "key")
	require.NoError(t, err)
	_, err = store.StoreDirectory(context.Background(), []NamedBlob{{Name: "0", Data: []byte("{}")}})
	require.ErrorContains(t, err, "invalid token")
}

func TestNFTStorageTransportIsInstrumented(t *testing.T) {
	store, err := NewNFTStorage("", "key")
	require.NoError(t, err)
	require.Equal(t, DefaultNFTStorageEndpoint, store.endpoint)
	require.Zero(t, store.http.Timeout)
	_, ok := store.http.Transport.(*otelhttp.Transport)
	require.True(t, ok, "transport %T", store.http.Transport)
}
