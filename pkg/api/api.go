// Package api exposes the slicing engine's HTTP configuration
// interface: get/apply a datapath's slice configuration and a
// liveness probe, on top of gorilla/mux.
package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ofslicer/ofslicer/pkg/audit"
	"github.com/ofslicer/ofslicer/pkg/slicer"
	"github.com/ofslicer/ofslicer/pkg/tuple"
	"github.com/ofslicer/ofslicer/pkg/util"
)

// Handlers serves the slicer configuration API over a Controller.
type Handlers struct {
	controller   *slicer.Controller
	version      string
	learnTimeout uint16
}

// NewHandlers builds the API surface for c. version is reported by the
// health endpoint; learnTimeout is applied to a POST's "learn" request
// when it omits its own timeout.
func NewHandlers(c *slicer.Controller, version string, learnTimeout uint16) *Handlers {
	return &Handlers{controller: c, version: version, learnTimeout: learnTimeout}
}

// RegisterRoutes wires this handler's routes onto router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/slicer/api/v1/config/{dpid}", h.handleGetConfig).Methods("GET")
	router.HandleFunc("/slicer/api/v1/config/{dpid}", h.handlePostConfig).Methods("POST")
	router.HandleFunc("/slicer/api/v1/health", h.handleHealth).Methods("GET")
}

// wireTuple is the JSON shape of a tuple on the wire: [port], [port,
// vlan], or [port, outer, inner]. Signed so that a negative element
// can be detected and rejected rather than silently wrapping into a
// huge unsigned value.
type wireTuple []int64

func (w wireTuple) toTuple() (tuple.Tuple, error) {
	if len(w) < 1 || len(w) > 3 {
		return tuple.Tuple{}, fmt.Errorf("tuple must have 1-3 elements, got %d", len(w))
	}
	for _, e := range w {
		if e < 0 {
			return tuple.Tuple{}, fmt.Errorf("tuple element %d is negative", e)
		}
	}
	switch len(w) {
	case 1:
		return tuple.New1(uint32(w[0])), nil
	case 2:
		return tuple.New2(uint32(w[0]), uint16(w[1])), nil
	default:
		return tuple.New3(uint32(w[0]), uint16(w[1]), uint16(w[2])), nil
	}
}

func wireFromTuple(t tuple.Tuple) wireTuple {
	switch t.Len {
	case 1:
		return wireTuple{int64(t.Port)}
	case 2:
		return wireTuple{int64(t.Port), int64(t.Outer)}
	default:
		return wireTuple{int64(t.Port), int64(t.Outer), int64(t.Inner)}
	}
}

func wireFromSlices(slices [][]tuple.Tuple) [][]wireTuple {
	out := make([][]wireTuple, len(slices))
	for i, s := range slices {
		row := make([]wireTuple, len(s))
		for j, t := range s {
			row[j] = wireFromTuple(t)
		}
		out[i] = row
	}
	return out
}

// postBody is the JSON body accepted by POST /slicer/api/v1/config/{dpid}.
type postBody struct {
	Disused []wireTuple   `json:"disused,omitempty"`
	Slices  [][]wireTuple `json:"slices,omitempty"`
	Learn   *learnBody    `json:"learn,omitempty"`
}

type learnBody struct {
	Mac     string    `json:"mac"`
	Tuple   wireTuple `json:"tuple"`
	Timeout *int      `json:"timeout,omitempty"`
}

type healthResponse struct {
	Datapaths []string `json:"datapaths"`
	Version   string   `json:"version"`
}

func parseDpid(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["dpid"]
	return strconv.ParseUint(raw, 16, 64)
}

func (h *Handlers) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	dpid, err := parseDpid(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed datapath id")
		return
	}

	cfg, err := h.controller.GetConfig(dpid)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "unknown datapath")
		return
	}
	respondWithJSON(w, http.StatusOK, wireFromSlices(cfg))
}

func (h *Handlers) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	dpid, err := parseDpid(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed datapath id")
		return
	}
	dpidHex := fmt.Sprintf("%016x", dpid)

	var body postBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	event := audit.NewEvent("", dpidHex, "config.apply").WithClientIP(r.RemoteAddr)

	slices, disused, changes, err := decodeRequest(body)
	if err != nil {
		h.logAudit(event.WithError(err).WithDuration(time.Since(start)))
		h.respondRejected(w, dpid, err)
		return
	}
	event.WithChanges(changes)

	if err := h.controller.ApplyConfig(dpid, slices, disused); err != nil {
		h.logAudit(event.WithError(err).WithDuration(time.Since(start)))
		h.respondRejected(w, dpid, err)
		return
	}

	if body.Learn != nil {
		if err := h.applyLearn(dpid, body.Learn); err != nil {
			h.logAudit(event.WithError(err).WithDuration(time.Since(start)))
			h.respondRejected(w, dpid, err)
			return
		}
	}

	h.logAudit(event.WithSuccess().WithDuration(time.Since(start)))

	cfg, err := h.controller.GetConfig(dpid)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "config unavailable after apply")
		return
	}
	respondWithJSON(w, http.StatusOK, wireFromSlices(cfg))
}

// decodeRequest validates and converts a postBody's wire tuples,
// accumulating every malformed element into a single ValidationError
// and failing closed before the controller ever sees the request —
// the "no state changes" half of a rejected POST.
func decodeRequest(body postBody) (slices [][]tuple.Tuple, disused []tuple.Tuple, changes []audit.Change, err error) {
	var v util.ValidationBuilder

	for i, w := range body.Disused {
		t, terr := w.toTuple()
		if terr != nil {
			v.AddErrorf("disused[%d]: %s", i, terr)
			continue
		}
		disused = append(disused, t)
		changes = append(changes, audit.Change{Table: "disused", Key: t.String(), Type: audit.ChangeDelete})
	}

	for i, wslice := range body.Slices {
		var tups []tuple.Tuple
		for j, w := range wslice {
			t, terr := w.toTuple()
			if terr != nil {
				v.AddErrorf("slices[%d][%d]: %s", i, j, terr)
				continue
			}
			tups = append(tups, t)
		}
		slices = append(slices, tups)
		changes = append(changes, audit.Change{Table: "slice", Key: tuple.Text(tups), Type: audit.ChangeAdd})
	}

	if body.Learn != nil {
		t, terr := body.Learn.Tuple.toTuple()
		if terr != nil {
			v.AddErrorf("learn.tuple: %s", terr)
		} else {
			changes = append(changes, audit.Change{Table: "learn", Key: body.Learn.Mac, Type: audit.ChangeModify,
				NewValue: map[string]string{"tuple": t.String()}})
		}
	}

	if v.HasErrors() {
		return nil, nil, nil, v.Build()
	}
	return slices, disused, changes, nil
}

func (h *Handlers) applyLearn(dpid uint64, lb *learnBody) error {
	t, err := lb.Tuple.toTuple()
	if err != nil {
		return fmt.Errorf("learn tuple: %w", err)
	}
	hw, err := net.ParseMAC(lb.Mac)
	if err != nil || len(hw) != 6 {
		return fmt.Errorf("learn mac: invalid address %q", lb.Mac)
	}
	var mac [6]byte
	copy(mac[:], hw)

	timeout := h.learnTimeout
	if lb.Timeout != nil {
		timeout = uint16(*lb.Timeout)
	}
	return h.controller.Learn(dpid, t, mac, timeout)
}

// respondRejected replies 400 with the datapath's unchanged
// configuration, per the malformed-request contract: the request is
// rejected but whatever already existed for dpid is still reported
// back rather than an empty body.
func (h *Handlers) respondRejected(w http.ResponseWriter, dpid uint64, cause error) {
	util.Logger.WithField("dpid", fmt.Sprintf("%016x", dpid)).WithField("error", cause).
		Warn("rejecting malformed config request")
	cfg, err := h.controller.GetConfig(dpid)
	if err != nil {
		cfg = nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(wireFromSlices(cfg))
}

func (h *Handlers) logAudit(event *audit.Event) {
	if err := audit.Log(event); err != nil {
		util.Logger.WithField("error", err).Warn("failed to write audit log entry")
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	dpids := h.controller.Datapaths()
	hex := make([]string, len(dpids))
	for i, d := range dpids {
		hex[i] = fmt.Sprintf("%016x", d)
	}
	respondWithJSON(w, http.StatusOK, healthResponse{Datapaths: hex, Version: h.version})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "internal error encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
