package connectsdk

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockHttpTransportReturnsQueuedResponses(t *testing.T) {
	transport := NewMockHttpTransport(
		JSONResponse(200, `{"code":"ABC"}`),
		JSONResponse(202, `{}`),
	)

	req, err := http.NewRequest(http.MethodGet, "http://example.test/p/register", nil)
	require.NoError(t, err)

	resp1, err := transport.Do(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp1.StatusCode)

	resp2, err := transport.Do(req)
	require.NoError(t, err)
	require.Equal(t, 202, resp2.StatusCode)

	require.Len(t, transport.Requests(), 2)
}

func TestMockStorageBackendWriteReadRoundTrip(t *testing.T) {
	b := NewMockStorageBackend()

	w, err := b.OpenWrite("a.gcode")
	require.NoError(t, err)
	_, err = w.Write([]byte("G28"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := b.OpenRead("a.gcode")
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 3)
	_, err = r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "G28", string(buf))

	counts := b.CallCounts()
	require.Equal(t, 1, counts["read"])
	require.Equal(t, 1, counts["write"])
}

func TestMockStorageBackendListdir(t *testing.T) {
	b := NewMockStorageBackend()
	w, err := b.OpenWrite("dir/a.gcode")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	infos, err := b.Listdir("dir")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "a.gcode", infos[0].Name())
}

func TestMockMetadataExtractorReturnsDataOrError(t *testing.T) {
	ext := &MockMetadataExtractor{Data: map[string]any{"layer_height": 0.2}}
	data, err := ext.Extract(context.Background(), "a.gcode")
	require.NoError(t, err)
	require.Equal(t, 0.2, data["layer_height"])
	require.Equal(t, 1, ext.Calls())
}
