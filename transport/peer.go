// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package transport

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/SnellerInc/distexec/job"

	"github.com/gorilla/mux"
)

// ExchangePath is the route of inbound messages.
const ExchangePath = "/v1/exchange"

// largest accepted message body; a frame is
// at most 16MiB plus its header
const maxMessage = 1<<24 + 1024

// Peer is a job.Transport between processes.
// Messages are POSTed to ExchangePath at the
// destination; Send returns once the message
// has been delivered, so messages from one
// sender to one tag keep their order. Messages
// addressed to Self are delivered without a
// round trip.
type Peer struct {
	Mailbox
	// Self is the location this peer serves.
	Self job.Location
	// Client sends messages;
	// http.DefaultClient is used if nil.
	Client *http.Client
	// Logger, if non-nil, receives diagnostics.
	Logger *log.Logger
}

func (p *Peer) logf(f string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(f, args...)
	}
}

func (p *Peer) client() *http.Client {
	if p.Client == nil {
		return http.DefaultClient
	}
	return p.Client
}

// URL returns the address of path at loc.
func URL(loc job.Location, path string, query url.Values) string {
	u := url.URL{Scheme: "http", Host: loc.String(), Path: path}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (p *Peer) Send(loc job.Location, tag string, msg []byte) error {
	if loc == p.Self {
		p.Deliver(tag, msg)
		return nil
	}
	req, err := http.NewRequest(http.MethodPost, URL(loc, ExchangePath, url.Values{"tag": {tag}}), bytes.NewReader(msg))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	res, err := p.client().Do(req)
	if err != nil {
		return fmt.Errorf("transport: sending to %s: %w", loc, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		return fmt.Errorf("transport: sending to %s: %s", loc, Reason(res))
	}
	return nil
}

// Reason returns the status and error text of
// an unsuccessful response.
func Reason(res *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
	if text := strings.TrimSpace(string(body)); text != "" {
		return res.Status + ": " + text
	}
	return res.Status
}

// Route installs the exchange endpoint of p on r.
func (p *Peer) Route(r *mux.Router) {
	r.HandleFunc(ExchangePath, p.serveExchange).Methods(http.MethodPost)
}

func (p *Peer) serveExchange(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		http.Error(w, "missing tag", http.StatusBadRequest)
		return
	}
	msg, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessage))
	if err != nil {
		p.logf("exchange %s: reading message from %s: %s", tag, r.RemoteAddr, err)
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	p.Deliver(tag, msg)
	w.WriteHeader(http.StatusNoContent)
}
