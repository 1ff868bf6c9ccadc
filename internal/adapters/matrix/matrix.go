// Package matrix bridges Matrix rooms over the client-server API.
// Rooms are addressed by the alias or id written in the bindings; the
// canonical room id from the join response maps events back to it.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tuna/fishroom/internal/adapters"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
	"github.com/tuna/fishroom/internal/filestore"
)

// Handle is the Matrix adapter: one account syncing the bound rooms.
type Handle struct {
	cfg      config.MatrixConfig
	selfName string
	rooms    []string
	loc      *time.Location
	uploads  filestore.Uploader // nil disables image re-hosting

	client  *mautrix.Client
	userID  id.UserID
	started int64 // sync events older than this are history replay

	mu          sync.Mutex
	roomAlias   map[id.RoomID]string
	aliasRoom   map[string]id.RoomID
	displayname map[string]string

	lookupName func(ctx context.Context, user id.UserID) string
}

// New builds the adapter. rooms are the binding addresses (aliases or
// room ids); they are joined at connect time.
func New(cfg config.MatrixConfig, selfName string, rooms []string, uploads filestore.Uploader, loc *time.Location) (*Handle, error) {
	client, err := mautrix.NewClient(cfg.Server, "", "")
	if err != nil {
		return nil, fmt.Errorf("matrix: client: %w", err)
	}
	h := &Handle{
		cfg:         cfg,
		selfName:    selfName,
		rooms:       rooms,
		loc:         loc,
		uploads:     uploads,
		client:      client,
		roomAlias:   make(map[id.RoomID]string),
		aliasRoom:   make(map[string]id.RoomID),
		displayname: make(map[string]string),
	}
	h.lookupName = func(ctx context.Context, user id.UserID) string {
		resp, err := client.GetDisplayName(ctx, user)
		if err != nil || resp == nil {
			return ""
		}
		return resp.DisplayName
	}
	return h, nil
}

func (h *Handle) Tag() string { return bus.ChannelMatrix }

func (h *Handle) Capabilities() adapters.Caps {
	return adapters.Caps{SupportsMultiline: true, SupportsPhoto: true}
}

// ReceiveLoop logs in, joins the bound rooms, and runs the sync loop
// until ctx ends. Login and join failures are fatal.
func (h *Handle) ReceiveLoop(ctx context.Context, publish bus.PublishFunc) error {
	if err := h.login(ctx); err != nil {
		return err
	}

	if h.cfg.Nick != "" {
		if err := h.client.SetDisplayName(ctx, h.cfg.Nick); err != nil {
			slog.Warn("matrix: set display name failed", "error", err)
		}
	}

	for _, alias := range h.rooms {
		joined, err := h.client.JoinRoom(ctx, alias, nil)
		if err != nil {
			return fmt.Errorf("matrix: join %s: %w", alias, err)
		}
		h.mu.Lock()
		h.roomAlias[joined.RoomID] = alias
		h.aliasRoom[alias] = joined.RoomID
		h.mu.Unlock()
		slog.Info("matrix: joined room", "room", alias)
	}

	h.started = time.Now().UnixMilli()

	syncer := h.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		h.handleEvent(ctx, evt, publish)
	})

	err := h.client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = errors.New("sync loop ended")
	}
	return fmt.Errorf("matrix: %w", err)
}

// login authenticates with the configured access token, or falls back
// to a password login.
func (h *Handle) login(ctx context.Context) error {
	if h.cfg.Token != "" {
		h.client.AccessToken = h.cfg.Token
		resp, err := h.client.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("matrix: whoami: %w", err)
		}
		h.userID = resp.UserID
		h.client.UserID = resp.UserID
		slog.Info("matrix: token auth", "user_id", resp.UserID)
		return nil
	}

	resp, err := h.client.Login(ctx, &mautrix.ReqLogin{
		Type:             mautrix.AuthTypePassword,
		Identifier:       mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: h.cfg.User},
		Password:         h.cfg.Password,
		StoreCredentials: true,
	})
	if err != nil {
		return fmt.Errorf("matrix: login: %w", err)
	}
	h.userID = resp.UserID
	slog.Info("matrix: logged in", "user_id", resp.UserID)
	return nil
}

func (h *Handle) handleEvent(ctx context.Context, evt *event.Event, publish bus.PublishFunc) {
	if evt.Sender == h.userID || evt.Timestamp < h.started {
		return
	}
	h.mu.Lock()
	alias, bound := h.roomAlias[evt.RoomID]
	h.mu.Unlock()
	if !bound {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil {
		return
	}

	sender := h.displayName(ctx, evt.RoomID, evt.Sender)

	var m *bus.Message
	switch content.MsgType {
	case event.MsgText:
		m = bus.New(bus.ChannelMatrix, sender, alias, content.Body, h.loc)
		m.MType = adapters.Classify(content.Body, h.selfName)
	case event.MsgImage:
		body, mediaURL := h.imageContent(ctx, content)
		m = bus.New(bus.ChannelMatrix, sender, alias, body, h.loc)
		m.MType = bus.Photo
		m.MediaURL = mediaURL
	default:
		return
	}
	if evt.Timestamp > 0 {
		m.Date, m.Time = bus.DateTime(evt.Timestamp/1000, h.loc)
	}
	m.Opt = &bus.Option{MatrixUser: string(evt.Sender)}

	if err := publish(ctx, m); err != nil {
		slog.Warn("matrix: publish failed", "error", err)
	}
}

// displayName resolves and caches a sender's display name per room.
func (h *Handle) displayName(ctx context.Context, room id.RoomID, user id.UserID) string {
	key := string(room) + "|" + string(user)
	h.mu.Lock()
	if name, ok := h.displayname[key]; ok {
		h.mu.Unlock()
		return name
	}
	lookup := h.lookupName
	h.mu.Unlock()

	name := ""
	if lookup != nil {
		name = lookup(ctx, user)
	}
	if name == "" {
		name = string(user)
	}

	h.mu.Lock()
	h.displayname[key] = name
	h.mu.Unlock()
	return name
}

// imageContent re-hosts an m.image on the file store and renders the
// "<url> (photo)" bridge line. Without an uploader, or on any failure,
// the line degrades to the filename.
func (h *Handle) imageContent(ctx context.Context, content *event.MessageEventContent) (string, string) {
	degraded := "(photo)"
	if content.Body != "" {
		degraded = content.Body + " (photo)"
	}
	if h.uploads == nil || content.URL == "" {
		return degraded, ""
	}

	uri, err := content.URL.Parse()
	if err != nil {
		slog.Warn("matrix: bad mxc url", "url", content.URL, "error", err)
		return degraded, ""
	}
	data, err := h.client.DownloadBytes(ctx, uri)
	if err != nil {
		slog.Warn("matrix: media download failed", "error", err)
		return degraded, ""
	}
	name := content.Body
	if name == "" {
		name = "image"
	}
	url, err := h.uploads.Upload(ctx, data, name)
	if err != nil {
		slog.Warn("matrix: media re-host failed", "error", err)
		return degraded, ""
	}
	return url + " (photo)", url
}

func (h *Handle) room(target string) (id.RoomID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	roomID, ok := h.aliasRoom[target]
	return roomID, ok
}

// SendText sends one m.text event, prefixed with the bridged sender.
func (h *Handle) SendText(ctx context.Context, target, content string, o *adapters.SendOptions) error {
	roomID, ok := h.room(target)
	if !ok {
		return fmt.Errorf("matrix: not joined to %s", target)
	}
	text := content
	if o != nil && o.Sender != "" {
		text = adapters.FormatSender(o.Sender, content)
	}
	if _, err := h.client.SendText(ctx, roomID, text); err != nil {
		return fmt.Errorf("matrix: send: %w", err)
	}
	return nil
}

// SendPhoto uploads the image to the homeserver and sends an m.image
// event pointing at it.
func (h *Handle) SendPhoto(ctx context.Context, target string, data []byte, sender string) error {
	roomID, ok := h.room(target)
	if !ok {
		return fmt.Errorf("matrix: not joined to %s", target)
	}
	upload, err := h.client.UploadBytes(ctx, data, http.DetectContentType(data))
	if err != nil {
		return fmt.Errorf("matrix: upload: %w", err)
	}
	body := "photo"
	if sender != "" {
		body = "[" + sender + "] photo"
	}
	_, err = h.client.SendMessageEvent(ctx, roomID, event.EventMessage, &event.MessageEventContent{
		MsgType: event.MsgImage,
		Body:    body,
		URL:     upload.ContentURI.CUString(),
	})
	if err != nil {
		return fmt.Errorf("matrix: send photo: %w", err)
	}
	return nil
}
