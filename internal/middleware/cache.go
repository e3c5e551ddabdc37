package middleware

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// ResponseCache stores encoded responses by key.
type ResponseCache interface {
	Key(userID, variant string) string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte) error
}

// captureWriter tees the response body (up to limit bytes) while writing it.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 {
		cw.buf.Write(b)
	} else if remain := cw.limit - cw.size; remain > 0 {
		if int64(len(b)) <= remain {
			cw.buf.Write(b)
		} else {
			cw.buf.Write(b[:remain])
		}
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// AvatarOwner derives the owning user id from a file id ({user_id}_a...).
func AvatarOwner(fileID string) string {
	owner, _, _ := strings.Cut(fileID, "_")
	return owner
}

// encodePayload packs [4 bytes status][4 bytes headerLen][headerJSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}

// AvatarCache serves avatar downloads from Redis, keyed by the owner of
// the file_id query parameter and the optional size variant. Only 200
// responses no larger than maxBody are stored.
func AvatarCache(cache ResponseCache, maxBody int64, log logrus.FieldLogger) echo.MiddlewareFunc {
	if cache == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			owner := AvatarOwner(c.QueryParam("file_id"))
			if c.Request().Method != http.MethodGet || owner == "" {
				return next(c)
			}
			ctx := c.Request().Context()
			key := cache.Key(owner, c.QueryParam("size"))

			if bs, err := cache.Get(ctx, key); err != nil {
				log.WithError(err).WithField("key", key).Warn("cache: read failed")
			} else if status, hdr, body, ok := decodePayload(bs); ok {
				for k, vals := range hdr {
					if strings.EqualFold(k, echo.HeaderContentLength) {
						continue
					}
					for _, v := range vals {
						c.Response().Header().Add(k, v)
					}
				}
				c.Response().Header().Set("X-Cache", "HIT")
				c.Response().WriteHeader(status)
				_, err := c.Response().Write(body)
				return err
			}

			limit := int64(0)
			if maxBody > 0 {
				limit = maxBody + 1
			}
			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: limit}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
				return nil
			}
			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err == nil {
				err = cache.Set(context.WithoutCancel(ctx), key, payload)
			}
			if err != nil {
				log.WithError(err).WithField("key", key).Warn("cache: write failed")
			}
			return nil
		}
	}
}
