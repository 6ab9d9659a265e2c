package solsync_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solsync"
)

func TestImportContacts(t *testing.T) {
	b := newFakeBackend(t)
	b.handle("POST /api/contacts/import", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Empresa", r.FormValue("map_empresa"))
		assert.Equal(t, "Telefone", r.FormValue("map_telefone"))
		_, present := r.MultipartForm.Value["map_nif"]
		assert.False(t, present, "unmapped columns are not sent")

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		content, _ := io.ReadAll(f)
		assert.Equal(t, "lista.csv", hdr.Filename)
		assert.Equal(t, "empresa;telefone\nACME;123\n", string(content))
		writeJSON(w, http.StatusOK, map[string]int{"created": 1, "updated": 2})
	})
	serveEtaggedPage(b, `"v1"`, 1)
	c, _ := newTestClient(t, b)
	ctx := context.Background()

	_, err := c.ListContacts(ctx, solsync.ListQuery{Page: 1})
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		progress []solsync.ImportProgress
	)
	res, err := c.ImportContacts(ctx,
		solsync.ImportFile{Name: "lista.csv", Content: strings.NewReader("empresa;telefone\nACME;123\n")},
		solsync.ColumnMapping{Empresa: "Empresa", Telefone: "Telefone"},
		func(p solsync.ImportProgress) {
			mu.Lock()
			defer mu.Unlock()
			progress = append(progress, p)
		})
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, solsync.ImportResult{Created: 1, Updated: 2}, res)

	require.GreaterOrEqual(t, len(progress), 2)
	last := progress[len(progress)-1]
	assert.Equal(t, solsync.StageProcessing, last.Stage)
	beforeLast := progress[len(progress)-2]
	assert.Equal(t, solsync.ImportProgress{Stage: solsync.StageUpload, Percent: 100}, beforeLast)

	// Imports invalidate cached listings.
	_, err = c.ListContacts(ctx, solsync.ListQuery{Page: 1})
	require.NoError(t, err)
	reqs := b.requestsTo(http.MethodGet, "/api/contacts")
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[1].IfNoneMatch)
}

func TestImportContacts_Failure(t *testing.T) {
	b := newFakeBackend(t)
	b.handle("POST /api/contacts/import", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Formato de arquivo inválido"})
	})
	c, _ := newTestClient(t, b)

	_, err := c.ImportContacts(context.Background(), solsync.ImportFile{Content: strings.NewReader("x")}, solsync.ColumnMapping{}, nil)
	var apiErr *solsync.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Formato de arquivo inválido", apiErr.Message)
}

func TestImportContactsInBackground(t *testing.T) {
	b := newFakeBackend(t)
	b.handle("POST /api/contacts/import/background", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": "job-42"})
	})
	c, _ := newTestClient(t, b)

	job, err := c.ImportContactsInBackground(context.Background(), solsync.ImportFile{Content: strings.NewReader("x")}, solsync.ColumnMapping{Nome: "Nome"})
	require.NoError(t, err)
	assert.Equal(t, "job-42", job.ID)
}

func followImportBackend(t *testing.T, body string) *fakeBackend {
	b := newFakeBackend(t)
	b.handle("GET /api/events/import/{job}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "job-42", r.PathValue("job"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	return b
}

func TestFollowImport_Done(t *testing.T) {
	b := followImportBackend(t, "event: ping\n\n"+
		"event: progress\ndata: {\"status\":\"running\",\"processed\":5,\"total\":10}\n\n"+
		"event: progress\ndata: {\"status\":\"done\",\"processed\":10,\"total\":10}\n\n")
	c, _ := newTestClient(t, b)

	var seen []solsync.ImportStatus
	done := make(chan solsync.ImportStatus, 1)
	stop := c.FollowImport(context.Background(), "job-42", solsync.ImportHandlers{
		OnProgress: func(s solsync.ImportStatus) { seen = append(seen, s) },
		OnDone:     func(s solsync.ImportStatus) { done <- s },
		OnError:    func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	select {
	case s := <-done:
		assert.Equal(t, 10, s.Processed)
	case <-time.After(2 * time.Second):
		t.Fatal("import never finished")
	}
	stop()
	require.Len(t, seen, 2)
	assert.Equal(t, "running", seen[0].Status)
}

func TestFollowImport_Error(t *testing.T) {
	b := followImportBackend(t, "event: progress\ndata: {\"status\":\"error\",\"message\":\"linha 3 inválida\"}\n\n")
	c, _ := newTestClient(t, b)

	errc := make(chan error, 1)
	stop := c.FollowImport(context.Background(), "job-42", solsync.ImportHandlers{
		OnError: func(err error) { errc <- err },
	})
	defer stop()

	select {
	case err := <-errc:
		require.True(t, errors.Is(err, solsync.ErrImportFailed))
		assert.Contains(t, err.Error(), "linha 3 inválida")
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
}
