package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"rasweb/internal/audit"
	"rasweb/internal/dispatch"
	"rasweb/internal/images"
	"rasweb/internal/metrics"
)

const (
	actionUpload = "upload_file"
	// room for multipart boundaries and headers on top of the file itself
	multipartSlack = 1 << 20
)

var errNoFilePart = errors.New("multipart body has no file field")

// receiveUpload streams the request body into the image store. The body is
// either the raw file (name from ?name=) or multipart/form-data with a "file"
// part. Oversize requests are refused from Content-Length before reading.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (images.ImageFile, error) {
	max := s.images.MaxUploadBytes()
	name := r.URL.Query().Get("name")

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	isMultipart := mt == "multipart/form-data"

	if max > 0 {
		limit := max
		if isMultipart {
			limit += multipartSlack
		}
		if r.ContentLength > limit {
			return images.ImageFile{}, fmt.Errorf("%w: %d bytes (max %d)", images.ErrTooLarge, r.ContentLength, max)
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	if !isMultipart {
		return s.images.Upload(r.Context(), name, r.ContentLength, r.Body)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return images.ImageFile{}, err
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return images.ImageFile{}, errNoFilePart
		}
		if err != nil {
			return images.ImageFile{}, err
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		if name == "" {
			name = filepath.Base(strings.ReplaceAll(part.FileName(), "\\", "/"))
		}
		img, err := s.images.Upload(r.Context(), name, -1, part)
		_ = part.Close()
		return img, err
	}
}

func uploadFailure(err error) (*dispatch.Failure, int) {
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe), errors.Is(err, images.ErrTooLarge):
		return &dispatch.Failure{Kind: dispatch.KindValidation, Message: err.Error()}, http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoFilePart):
		return &dispatch.Failure{Kind: dispatch.KindValidation, Message: err.Error()}, http.StatusBadRequest
	}
	f := dispatch.Classify(err)
	return f, statusForKind(f.Kind)
}

func (s *Server) recordUpload(ctx context.Context, img images.ImageFile, name string, err error) {
	state, detail := string(dispatch.StateExecuted), ""
	if err != nil {
		state, detail = string(dispatch.StateFailed), err.Error()
	} else {
		name = img.Name
	}
	metrics.IncAction(actionUpload, state)
	if err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("upload failed")
	}
	if s.audit == nil {
		return
	}
	if aerr := s.audit.Record(context.WithoutCancel(ctx), audit.Entry{Action: actionUpload, Target: name, State: state, Detail: detail}); aerr != nil {
		s.log.Error().Err(aerr).Msg("audit record failed")
	}
}

func (s *Server) handleAPIUpload(w http.ResponseWriter, r *http.Request) {
	img, err := s.receiveUpload(w, r)
	s.recordUpload(r.Context(), img, r.URL.Query().Get("name"), err)
	if err != nil {
		f, code := uploadFailure(err)
		writeError(w, code, f)
		return
	}
	writeJSON(w, dispatch.Outcome{Action: actionUpload, Target: img.Name, State: dispatch.StateExecuted, Message: "Uploaded " + img.Name, Result: img})
}
