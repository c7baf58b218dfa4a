package server

import (
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"rasweb/internal/controller"
	"rasweb/internal/dispatch"
)

const flashCookie = "rasweb_flash"

type flash struct {
	OK      bool
	Message string
	Command string
	Lines   []string
}

// deviceRow is one SCSI ID on the index page, attached or not.
type deviceRow struct {
	ID       int
	Attached bool
	Slot     controller.DeviceSlot
}

type indexPage struct {
	Snapshot
	Rows        []deviceRow
	Types       []controller.DeviceType
	Extensions  string
	SuggestName string
	MaxUpload   int64
	Flash       *flash
}

type confirmPage struct {
	Prompt    string
	Token     string
	ExpiresAt time.Time
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"bytes": func(n any) string {
			switch v := n.(type) {
			case int64:
				return humanize.IBytes(uint64(v))
			case uint64:
				return humanize.IBytes(v)
			}
			return ""
		},
		"ago":   humanize.Time,
		"label": func(t controller.DeviceType) string { return t.Label() },
		"removable": func(t controller.DeviceType) bool {
			return t.Removable()
		},
	}
}

func rows(slots []controller.DeviceSlot) []deviceRow {
	out := make([]deviceRow, controller.MaxID+1)
	for i := range out {
		out[i].ID = i
	}
	for _, s := range slots {
		// LUNs other than 0 share the row of their ID
		if s.ID >= 0 && s.ID <= controller.MaxID && !out[s.ID].Attached {
			out[s.ID] = deviceRow{ID: s.ID, Attached: true, Slot: s}
		}
	}
	return out
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(r.Context())
	page := indexPage{
		Snapshot: snap,
		Rows:     rows(snap.Devices),
		Types:    controller.Types,
		Flash:    s.takeFlash(w, r),
	}
	if s.images != nil {
		page.Extensions = "." + strings.Join(s.images.Extensions(), ",.")
		page.SuggestName = s.images.SuggestName()
		page.MaxUpload = s.images.MaxUploadBytes()
	}
	s.render(w, http.StatusOK, "index.html", page)
}

// handleFormAction is the single form endpoint of the HTML UI. A destructive
// action renders the confirmation page, which posts back only the token.
func (s *Server) handleFormAction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.setFlash(w, flash{Message: "Malformed form submission"})
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	req := dispatch.Request{
		Action: r.PostForm.Get("action"),
		Token:  r.PostForm.Get("token"),
		Cancel: r.PostForm.Get("cancel") != "",
		Params: map[string]string{},
	}
	if req.Action == "" {
		req.Action = r.PostForm.Get("command")
	}
	for k, v := range r.PostForm {
		switch k {
		case "action", "command", "token", "cancel", "confirm":
			continue
		}
		if len(v) > 0 {
			req.Params[k] = v[0]
		}
	}

	out := s.d.Dispatch(r.Context(), req)
	if out.State == dispatch.StateConfirmationRequired {
		page := confirmPage{Prompt: out.Prompt, Token: out.Token}
		if out.ExpiresAt != nil {
			page.ExpiresAt = *out.ExpiresAt
		}
		s.render(w, http.StatusOK, "confirm.html", page)
		return
	}
	s.setFlash(w, flashFor(out))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleFormUpload(w http.ResponseWriter, r *http.Request) {
	img, err := s.receiveUpload(w, r)
	s.recordUpload(r.Context(), img, r.URL.Query().Get("name"), err)
	if err != nil {
		f, _ := uploadFailure(err)
		s.setFlash(w, flash{Message: "Upload failed: " + f.Message})
	} else {
		s.setFlash(w, flash{OK: true, Message: "Uploaded " + img.Name + " (" + humanize.IBytes(uint64(img.Size)) + ")"})
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func flashFor(out dispatch.Outcome) flash {
	if out.Failure != nil {
		return flash{Message: out.Failure.Message, Command: out.Failure.Command, Lines: out.Failure.Lines}
	}
	msg := out.Message
	if msg == "" {
		msg = "Command succeeded!"
	}
	return flash{OK: true, Message: msg}
}

func (s *Server) setFlash(w http.ResponseWriter, f flash) {
	v, err := s.cookies.Encode(flashCookie, f)
	if err != nil {
		s.log.Error().Err(err).Msg("flash encode failed")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Value: v, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode, MaxAge: 300})
}

func (s *Server) takeFlash(w http.ResponseWriter, r *http.Request) *flash {
	ck, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Value: "", Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode, MaxAge: -1})
	var f flash
	if err := s.cookies.Decode(flashCookie, ck.Value, &f); err != nil {
		return nil
	}
	return &f
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error().Err(err).Str("template", name).Msg("render failed")
	}
}
