package telegram

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mymmrac/telego"

	"github.com/tuna/fishroom/internal/bus"
)

// downloadFailed is the content shown when Telegram media cannot be
// fetched or re-hosted. The misspelling is ancient and load-bearing:
// users grep their logs for it.
const downloadFailed = "(teleboto Faild to download file)"

// maxMediaBytes caps downloads at the Bot API file limit.
const maxMediaBytes int64 = 20 * 1024 * 1024

var mediaClient = &http.Client{Timeout: 30 * time.Second}

// photoContent downloads the photo, re-hosts it, and renders the
// "<url> (photo)" bridge line.
func (h *Handle) photoContent(ctx context.Context, fileID, caption string) (string, bus.MType, string) {
	if h.uploads == nil {
		return withCaption("(photo)", caption), bus.Photo, ""
	}
	data, err := h.downloadFile(ctx, fileID)
	if err != nil {
		slog.Warn("telegram: photo download failed", "file_id", fileID, "error", err)
		return downloadFailed, bus.Photo, ""
	}
	url, err := h.uploads.Upload(ctx, data, "photo.jpg")
	if err != nil {
		slog.Warn("telegram: photo upload failed", "error", err)
		return downloadFailed, bus.Photo, ""
	}
	h.countUpload(ctx)
	return withCaption(url+" (photo)", caption), bus.Photo, url
}

// stickerContent renders the "<url> (sticker)" bridge line. Uploads
// are cached under the sticker's file id and the content md5, so a
// popular sticker is re-hosted once.
func (h *Handle) stickerContent(ctx context.Context, fileID string) (string, bus.MType, string) {
	if h.uploads == nil {
		return "(sticker)", bus.Sticker, ""
	}
	if url, ok := h.stickers.URL(ctx, fileID); ok {
		return url + " (sticker)", bus.Sticker, url
	}

	data, err := h.downloadFile(ctx, fileID)
	if err != nil {
		slog.Warn("telegram: sticker download failed", "file_id", fileID, "error", err)
		return downloadFailed + " (sticker)", bus.Sticker, ""
	}

	sum := md5.Sum(data)
	digest := hex.EncodeToString(sum[:])
	url, ok := h.stickers.URL(ctx, digest)
	if !ok {
		url, err = h.uploads.Upload(ctx, data, "sticker.webp")
		if err != nil {
			slog.Warn("telegram: sticker upload failed", "error", err)
			return downloadFailed + " (sticker)", bus.Sticker, ""
		}
		h.countUpload(ctx)
		if err := h.stickers.SetURL(ctx, digest, url); err != nil {
			slog.Warn("telegram: sticker cache write failed", "error", err)
		}
	}
	if err := h.stickers.SetURL(ctx, fileID, url); err != nil {
		slog.Warn("telegram: sticker cache write failed", "error", err)
	}
	return url + " (sticker)", bus.Sticker, url
}

// countUpload bumps the re-host counter. Best effort.
func (h *Handle) countUpload(ctx context.Context) {
	if h.counter == nil {
		return
	}
	if _, err := h.counter.Incr(ctx); err != nil {
		slog.Warn("telegram: upload counter failed", "error", err)
	}
}

// downloadFile fetches file bytes from the Bot API file endpoint.
func (h *Handle) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := h.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file info: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("empty file path for file_id %s", fileID)
	}
	if int64(file.FileSize) > maxMediaBytes {
		return nil, fmt.Errorf("file too large: %d bytes", file.FileSize)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", h.cfg.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := mediaClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > maxMediaBytes {
		return nil, fmt.Errorf("file exceeds max size during download")
	}
	return data, nil
}
