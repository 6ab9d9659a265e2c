package solsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"solsync/internal/sse"
)

// ColumnMapping names the spreadsheet column that feeds each contact field.
// Empty entries are not sent.
type ColumnMapping struct {
	Empresa  string
	Nome     string
	Telefone string
	Email    string
	NIF      string
}

func (m ColumnMapping) writeFields(w *multipart.Writer) error {
	for _, f := range []struct{ name, value string }{
		{"map_empresa", m.Empresa},
		{"map_nome", m.Nome},
		{"map_telefone", m.Telefone},
		{"map_email", m.Email},
		{"map_nif", m.NIF},
	} {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

// ImportFile is the spreadsheet being uploaded.
type ImportFile struct {
	Name    string
	Content io.Reader
}

// ImportStage is the phase an upload is in.
type ImportStage string

const (
	StageUpload     ImportStage = "upload"
	StageProcessing ImportStage = "processing"
)

// ImportProgress reports upload progress. Percent is meaningful for
// StageUpload only.
type ImportProgress struct {
	Stage   ImportStage
	Percent int
}

// ImportResult summarizes a finished synchronous import.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ImportJob identifies a background import.
type ImportJob struct {
	ID string
}

// ImportStatus is one progress event of a background import.
type ImportStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Processed int    `json:"processed,omitempty"`
	Total     int    `json:"total,omitempty"`
	Percent   int    `json:"percent,omitempty"`
}

// ImportContacts uploads a spreadsheet and waits for the backend to import
// it. progress, when non-nil, receives upload percentages and then a single
// StageProcessing report once the body has been sent. Cached listings are
// invalidated on success.
func (c *Client) ImportContacts(ctx context.Context, file ImportFile, mapping ColumnMapping, progress func(ImportProgress)) (ImportResult, error) {
	resp, err := c.postImport(ctx, "/contacts/import", "contacts.import", file, mapping, progress)
	if err != nil {
		return ImportResult{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "failed to import"); err != nil {
		return ImportResult{}, err
	}
	c.InvalidateContacts()

	var res ImportResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		c.logger.Debug("import response not decodable", zap.Error(err))
		return ImportResult{}, nil
	}
	return res, nil
}

// ImportContactsInBackground queues an import and returns its job.
// Follow it with FollowImport.
func (c *Client) ImportContactsInBackground(ctx context.Context, file ImportFile, mapping ColumnMapping) (ImportJob, error) {
	resp, err := c.postImport(ctx, "/contacts/import/background", "contacts.import.background", file, mapping, nil)
	if err != nil {
		return ImportJob{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "failed to start background import"); err != nil {
		return ImportJob{}, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ImportJob{}, fmt.Errorf("read background import response: %w", err)
	}
	id := gjson.GetBytes(body, "job_id")
	if !id.Exists() {
		id = gjson.GetBytes(body, "jobId")
	}
	if id.String() == "" {
		return ImportJob{}, fmt.Errorf("background import response carries no job id")
	}
	return ImportJob{ID: id.String()}, nil
}

func (c *Client) postImport(ctx context.Context, path, endpoint string, file ImportFile, mapping ColumnMapping, progress func(ImportProgress)) (*http.Response, error) {
	if file.Content == nil {
		return nil, fmt.Errorf("import: no file content")
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	name := file.Name
	if name == "" {
		name = "contacts.csv"
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	if err := mapping.writeFields(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	size := int64(buf.Len())
	var body io.Reader = &buf
	if progress != nil {
		body = &progressReader{r: &buf, total: size, report: progress, last: -1}
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	return c.send(req, endpoint, true)
}

// progressReader reports how much of the request body has been consumed.
// The processing report goes out with the last chunk, before the server can
// possibly answer.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	last     int
	finished bool
	report   func(ImportProgress)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		pct := int(math.Round(float64(p.read) * 100 / float64(p.total)))
		if pct != p.last {
			p.last = pct
			p.report(ImportProgress{Stage: StageUpload, Percent: pct})
		}
	}
	if (p.read >= p.total || err == io.EOF) && !p.finished {
		p.finished = true
		p.report(ImportProgress{Stage: StageProcessing})
	}
	return n, err
}

// ImportHandlers receive background import events. Any may be nil.
type ImportHandlers struct {
	OnProgress func(ImportStatus)
	OnDone     func(ImportStatus)
	OnError    func(error)
}

// Import job states that end a FollowImport stream.
const (
	importStatusDone  = "done"
	importStatusError = "error"
)

// FollowImport streams the progress of a background import. Every progress
// event goes to OnProgress; a "done" status then goes to OnDone and an
// "error" status to OnError, after which the stream is closed. Stream
// failures are reported to OnError. The returned function stops following
// and waits for the reader to exit.
func (c *Client) FollowImport(ctx context.Context, jobID string, h ImportHandlers) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := c.followImport(ctx, jobID, h); err != nil && ctx.Err() == nil && h.OnError != nil {
			h.OnError(err)
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (c *Client) followImport(ctx context.Context, jobID string, h ImportHandlers) error {
	body, err := c.openStream(ctx, c.eventsEndpoint("/import/"+url.PathEscape(jobID)), "events.import")
	if err != nil {
		return err
	}
	defer body.Close()
	go func() {
		<-ctx.Done()
		body.Close()
	}()

	var finished bool
	err = sse.Read(body, func(e sse.Event) bool {
		if e.Event != "progress" {
			return true
		}
		data := e.Data
		if data == "" {
			data = "{}"
		}
		var st ImportStatus
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			c.logger.Debug("dropping malformed import event", zap.String("job", jobID), zap.Error(err))
			return true
		}
		if h.OnProgress != nil {
			h.OnProgress(st)
		}
		switch st.Status {
		case importStatusDone:
			finished = true
			c.InvalidateContacts()
			if h.OnDone != nil {
				h.OnDone(st)
			}
			return false
		case importStatusError:
			finished = true
			if h.OnError != nil {
				if st.Message != "" {
					h.OnError(fmt.Errorf("%w: %s", ErrImportFailed, st.Message))
				} else {
					h.OnError(ErrImportFailed)
				}
			}
			return false
		}
		return true
	})
	if finished {
		return nil
	}
	if err == io.EOF {
		return fmt.Errorf("import %s: event stream closed before completion", jobID)
	}
	return err
}
