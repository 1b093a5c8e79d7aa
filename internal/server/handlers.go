package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/media-hub/media-hub/internal/fetch"
	"github.com/media-hub/media-hub/internal/materialize"
)

const (
	headerSource = "X-Media-Hub-Source"
	headerKey    = "X-Media-Hub-Key"
	headerKind   = "X-Media-Hub-Kind"
)

type handlers struct {
	opts AppOptions
}

type artifactPayload struct {
	Path   string `json:"path"`
	Key    string `json:"key"`
	Size   int    `json:"size"`
	Kind   string `json:"kind"`
	Source string `json:"source"`
}

type prefetchRequest struct {
	Sources []string `json:"sources"`
}

// getMedia 返回标识符对应的字节，并通过响应头标明命中层级与缓存键。
func (h *handlers) getMedia(c fiber.Ctx) error {
	src, ok := sourceParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "src_required"})
	}

	result, err := h.opts.Resolver.Resolve(requestContext(c), src)
	if err != nil {
		return h.renderFetchError(c, src, err)
	}

	kind := h.opts.Kinds.Classify(src)
	c.Set(fiber.HeaderContentType, http.DetectContentType(result.Data))
	c.Set(headerSource, string(result.Source))
	c.Set(headerKey, result.Key.String())
	c.Set(headerKind, kind.Name)
	return c.Send(result.Data)
}

// createArtifact 取数后物化为临时文件，返回文件路径供播放器打开。
func (h *handlers) createArtifact(c fiber.Ctx) error {
	src, ok := sourceParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "src_required"})
	}

	result, err := h.opts.Resolver.Resolve(requestContext(c), src)
	if err != nil {
		return h.renderFetchError(c, src, err)
	}

	kind := h.opts.Kinds.Classify(src)
	path, err := h.opts.Artifacts.Materialize(result.Data, h.opts.Kinds.ArtifactExt(src))
	if err != nil {
		h.opts.Logger.WithFields(logrus.Fields{
			"action":     "materialize",
			"request_id": RequestID(c),
			"key":        result.Key.String(),
		}).WithError(err).Error("materialize_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "materialize_failed"})
	}

	return c.JSON(artifactPayload{
		Path:   path,
		Key:    result.Key.String(),
		Size:   len(result.Data),
		Kind:   kind.Name,
		Source: string(result.Source),
	})
}

// releaseArtifact 删除一个先前生成的临时文件。
func (h *handlers) releaseArtifact(c fiber.Ctx) error {
	path := strings.TrimSpace(c.Query("path"))
	if path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "path_required"})
	}
	if err := h.opts.Artifacts.Release(path); err != nil {
		if errors.Is(err, materialize.ErrUnknownArtifact) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "artifact_not_found"})
		}
		h.opts.Logger.WithFields(logrus.Fields{
			"action":     "release",
			"request_id": RequestID(c),
			"path":       path,
		}).WithError(err).Error("artifact_release_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "release_failed"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) prefetch(c fiber.Ctx) error {
	var req prefetchRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	sources := make([]string, 0, len(req.Sources))
	for _, src := range req.Sources {
		if src = strings.TrimSpace(src); src != "" {
			sources = append(sources, src)
		}
	}
	if len(sources) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sources_required"})
	}
	if len(sources) > h.opts.MaxPrefetch {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "too_many_sources",
			"limit": h.opts.MaxPrefetch,
		})
	}

	report := h.opts.Resolver.Prefetch(requestContext(c), sources)
	return c.JSON(report)
}

func (h *handlers) stats(c fiber.Ctx) error {
	payload := fiber.Map{
		"fetch":     h.opts.Resolver.Stats(),
		"artifacts": h.opts.Artifacts.Stats(),
	}
	if h.opts.Memory != nil {
		payload["memory"] = h.opts.Memory.Stats()
	}
	if h.opts.Disk != nil {
		payload["disk"] = h.opts.Disk.Usage()
	}
	return c.JSON(payload)
}

// kinds 暴露当前生效的媒体类型表，便于排查扩展名配置。
func (h *handlers) kinds(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"kinds": h.opts.Kinds.List()})
}

func (h *handlers) renderFetchError(c fiber.Ctx, src string, err error) error {
	fields := logrus.Fields{
		"action":     "fetch",
		"request_id": RequestID(c),
		"src":        src,
	}
	var fetchErr *fetch.FetchError
	if errors.As(err, &fetchErr) {
		h.opts.Logger.WithFields(fields).WithError(err).Warn("fetch_failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "fetch_failed"})
	}
	h.opts.Logger.WithFields(fields).WithError(err).Info("fetch_aborted")
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "fetch_aborted"})
}

func sourceParam(c fiber.Ctx) (string, bool) {
	src := strings.TrimSpace(c.Query("src"))
	return src, src != ""
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
