package web

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tuna/fishroom/internal/adapters"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/textstore"
)

// pollTimeout caps how long an API long-poll blocks on an empty queue.
const pollTimeout = 10 * time.Second

// historyWindow is how far back the public log reaches.
const historyWindow = 7 * 24 * time.Hour

// maxPostBytes caps message post bodies.
const maxPostBytes = 1 << 20

// A nickname must start with a word character (unicode letters and
// digits included), which keeps zero-width and control junk out of the
// bridged sender prefix.
var nickRe = regexp.MustCompile(`^[\p{L}\p{N}_]`)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := bus.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// roomVisible reports whether room is bound and public. Private rooms
// are indistinguishable from unknown ones on this surface.
func (s *Server) roomVisible(room string) bool {
	if _, ok := s.cfg.Bindings[room]; !ok {
		return false
	}
	return !s.cfg.IsPrivateRoom(room)
}

// auth resolves the API token from the request headers, falling back to
// query parameters for clients that cannot set headers.
func (s *Server) auth(r *http.Request) (tokenID string, ok bool) {
	tokenID = r.Header.Get("X-TOKEN-ID")
	if tokenID == "" {
		tokenID = r.URL.Query().Get("id")
	}
	tokenKey := r.Header.Get("X-TOKEN-KEY")
	if tokenKey == "" {
		tokenKey = r.URL.Query().Get("key")
	}
	if !s.clients.Auth(r.Context(), tokenID, tokenKey) {
		return "", false
	}
	return tokenID, true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	room := s.cfg.Web.DefaultRoom
	if room == "" {
		if rooms := s.cfg.PublicRooms(); len(rooms) > 0 {
			room = rooms[0]
		}
	}
	if room == "" {
		http.NotFound(w, r)
		return
	}
	target := fmt.Sprintf("%s/api/log/%s/today", strings.TrimRight(s.cfg.BaseURL, "/"), room)
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleRobots(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "User-agent: *\nDisallow: /")
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"rooms": s.cfg.PublicRooms()})
}

// logEntry is the public rendition of one logged message: the wire
// fields minus receiver and opt, plus its position in the day's log.
type logEntry struct {
	ID       int64             `json:"id"`
	Channel  string            `json:"channel"`
	Sender   string            `json:"sender"`
	Content  string            `json:"content"`
	RichText bus.RichText      `json:"rich_text,omitempty"`
	MType    bus.MType         `json:"mtype"`
	MediaURL string            `json:"media_url,omitempty"`
	Date     string            `json:"date"`
	Time     string            `json:"time"`
	BotMsg   bool              `json:"botmsg,omitempty"`
	Room     string            `json:"room,omitempty"`
	Route    map[string]string `json:"route,omitempty"`
}

func newLogEntry(id int64, m *bus.Message) logEntry {
	return logEntry{
		ID:       id,
		Channel:  m.Channel,
		Sender:   m.Sender,
		Content:  m.Content,
		RichText: m.RichText,
		MType:    m.MType,
		MediaURL: m.MediaURL,
		Date:     m.Date,
		Time:     m.Time,
		BotMsg:   m.BotMsg,
		Room:     m.Room,
		Route:    m.Route,
	}
}

func (s *Server) handleChatLog(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if !s.roomVisible(room) {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	date := r.PathValue("date")
	if date == "today" {
		date = s.chatLog.Today()
	}
	day, err := time.ParseInLocation("2006-01-02", date, s.loc)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	if time.Now().In(s.loc).Sub(day) > historyWindow {
		http.Error(w, "Dark History Coverred", http.StatusForbidden)
		return
	}

	mlen, err := s.chatLog.Len(r.Context(), room, date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// last counts from the head of the day; limit walks back from it.
	last := queryInt(r, "last", mlen) - 1
	limit := queryInt(r, "limit", mlen)
	start := last - limit + 1
	if start < 0 {
		start = 0
	}

	entries := make([]logEntry, 0)
	if last >= 0 {
		msgs, err := s.chatLog.Range(r.Context(), room, date, start, last)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for i, m := range msgs {
			entries = append(entries, newLogEntry(start+int64(i), m))
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleLogText serves one logged message as plain text. This is the
// chat-logger paste target, so there is no room gate: the URL must stay
// resolvable wherever the hub handed it out.
func (s *Server) handleLogText(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 0 {
		http.Error(w, "text not found", http.StatusNotFound)
		return
	}
	m, err := s.chatLog.Message(r.Context(), r.PathValue("room"), r.PathValue("date"), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if m == nil {
		http.Error(w, "text not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Text from %s\n%s %s\n\n%s\n", m.Sender, m.Date, m.Time, m.Content)
}

func (s *Server) handlePaste(w http.ResponseWriter, r *http.Request) {
	p, err := textstore.GetPaste(r.Context(), s.client, r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if p == nil {
		http.Error(w, "text not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s\n%s\n\n%s\n", p.Title, p.Time, p.Content)
}

func (s *Server) handleAPIPoll(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := s.auth(r)
	if !ok {
		http.Error(w, "Invalid Token", http.StatusForbidden)
		return
	}

	msgs, err := s.clients.Drain(r.Context(), tokenID, pollTimeout)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The room filter drops, never defers: filtered-out messages were
	// already consumed from the queue.
	room := r.URL.Query().Get("room")
	out := make([]*bus.Message, 0, len(msgs))
	for _, m := range msgs {
		if room != "" && m.Room != room {
			continue
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) handleAPIPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPostBytes))
	if err != nil || len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Cannot handle empty request"})
		return
	}
	var req struct {
		Content string `json:"content"`
		Sender  string `json:"sender"`
	}
	if err := bus.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Unable to parse JSON."})
		return
	}

	tokenID, ok := s.auth(r)
	if !ok {
		http.Error(w, "Invalid Token", http.StatusForbidden)
		return
	}
	room := r.PathValue("room")
	if !s.roomVisible(room) {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Cannot send empty message"})
		return
	}

	apiname := s.clients.Name(r.Context(), tokenID)
	sender := req.Sender
	if sender == "" {
		sender = apiname
	}

	m := bus.New(bus.ChannelAPI+"-"+apiname, sender, room, req.Content, s.loc)
	m.Room = room
	m.MType = adapters.Classify(req.Content, "")
	if err := s.publish(r.Context(), m); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "OK"})
}

func (s *Server) handleWebPost(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if !s.roomVisible(room) {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPostBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Unable to parse JSON."})
		return
	}
	var req struct {
		Content  string `json:"content"`
		Nickname string `json:"nickname"`
	}
	if err := bus.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Unable to parse JSON."})
		return
	}

	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "Cannot send empty message"})
		return
	}
	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "Nickname must be set"})
		return
	}
	if !nickRe.MatchString(nickname) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "Invalid char found, use a human's nickname instead!"})
		return
	}

	m := bus.New(bus.ChannelWeb, nickname, room, req.Content, s.loc)
	m.Room = room
	m.MType = adapters.Classify(req.Content, "")
	if err := s.publish(r.Context(), m); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"msg": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"msg": "OK"})
}

func queryInt(r *http.Request, name string, def int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}
