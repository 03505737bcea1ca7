/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/cardparty/internal/gateway"
	"github.com/Seednode/cardparty/internal/storage"
)

const qrSize = 320

type roomFinder interface {
	FindRoom(ctx context.Context, ref string) (storage.Room, error)
}

// roomURL is the address a scanned code opens: the room's state endpoint,
// keyed by its share code.
func roomURL(cfg *Config, r *http.Request, code string) string {
	scheme := cfg.scheme()
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + cfg.prefix + "/api/rooms/" + url.PathEscape(code)
}

// serveRoomQR renders a PNG QR code for an existing room, looked up by id or
// share code.
func serveRoomQR(cfg *Config, rooms roomFinder, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		room, err := rooms.FindRoom(r.Context(), ps.ByName("roomid"))
		if err != nil {
			gateway.WriteError(w, err)

			return
		}

		png, err := qrcode.Encode(roomURL(cfg, r, room.Code), qrcode.Medium, qrSize)
		if err != nil {
			errs <- err

			http.Error(w, "qr generation failed", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(cfg, w)

		written, err := w.Write(png)
		if err != nil {
			errs <- err

			return
		}

		logServed(cfg, r, "QR code for room "+room.Code, written, startTime)
	}
}
