package main

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"worldhost.ai/internal/sim/lifecycle"
	"worldhost.ai/internal/sim/worldinfo"
	"worldhost.ai/internal/transport/ws"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const maxBodyBytes = 64 << 10

type adminAPI struct {
	mgr *lifecycle.Manager
	log *zap.Logger

	// allowRemote disables the loopback check, for tests and trusted networks.
	allowRemote bool

	createSchema *jsonschema.Schema
	propsSchema  *jsonschema.Schema
}

func newAdminAPI(mgr *lifecycle.Manager, log *zap.Logger) (*adminAPI, error) {
	create, err := compileSchema("create_world.schema.json")
	if err != nil {
		return nil, err
	}
	props, err := compileSchema("properties.schema.json")
	if err != nil {
		return nil, err
	}
	return &adminAPI{mgr: mgr, log: log.Named("admin"), createSchema: create, propsSchema: props}, nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	b, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	s, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return s, nil
}

func (a *adminAPI) register(mux *http.ServeMux) {
	mux.Handle("GET /admin/v1/worlds", a.guard(a.listLoaded))
	mux.Handle("GET /admin/v1/worlds/known", a.guard(a.listKnown))
	mux.Handle("GET /admin/v1/worlds/by-id/{id}", a.guard(a.getByID))
	mux.Handle("GET /admin/v1/worlds/{name}", a.guard(a.getByName))
	mux.Handle("POST /admin/v1/worlds", a.guard(a.create))
	mux.Handle("POST /admin/v1/worlds/{name}/load", a.guard(a.load))
	mux.Handle("POST /admin/v1/worlds/{name}/unload", a.guard(a.unload))
	mux.Handle("POST /admin/v1/worlds/{name}/properties", a.guard(a.properties))
	mux.Handle("POST /admin/v1/difficulty", a.guard(a.difficulty))
	mux.Handle("POST /admin/v1/flush", a.guard(a.flush))
}

func (a *adminAPI) guard(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !a.allowRemote && !ws.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		fn(rw, r)
	})
}

type worldView struct {
	UniqueID      uuid.UUID `json:"unique_id"`
	Name          string    `json:"name"`
	Slot          int32     `json:"slot"`
	DimensionType string    `json:"dimension_type"`
	LoadedAt      time.Time `json:"loaded_at"`
	Dirty         bool      `json:"dirty"`

	Record *worldinfo.Record `json:"record"`
}

func viewOf(h *lifecycle.Handle) worldView {
	return worldView{
		UniqueID:      h.ID(),
		Name:          h.Name(),
		Slot:          h.Slot(),
		DimensionType: string(h.DimensionType()),
		LoadedAt:      h.LoadedAt(),
		Dirty:         h.Dirty(),
		Record:        h.Record(),
	}
}

func (a *adminAPI) listLoaded(rw http.ResponseWriter, r *http.Request) {
	hs := a.mgr.ListLoaded()
	out := make([]worldView, 0, len(hs))
	for _, h := range hs {
		out = append(out, viewOf(h))
	}
	writeOK(rw, http.StatusOK, map[string]any{"worlds": out})
}

func (a *adminAPI) listKnown(rw http.ResponseWriter, r *http.Request) {
	recs := a.mgr.Known()
	type known struct {
		*worldinfo.Record
		Loaded bool `json:"loaded"`
	}
	out := make([]known, 0, len(recs))
	for _, rec := range recs {
		_, loaded := a.mgr.FindByID(rec.UniqueID)
		out = append(out, known{Record: rec, Loaded: loaded})
	}
	writeOK(rw, http.StatusOK, map[string]any{"worlds": out})
}

func (a *adminAPI) getByName(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h, ok := a.mgr.FindByName(name)
	if !ok {
		writeErr(rw, name, &lifecycle.Error{Op: "get", World: name, Kind: lifecycle.ErrNotLoaded})
		return
	}
	writeOK(rw, http.StatusOK, map[string]any{"world": viewOf(h)})
}

func (a *adminAPI) getByID(rw http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeBadRequest(rw, raw, "E_BAD_REQUEST", "invalid unique id")
		return
	}
	h, ok := a.mgr.FindByID(id)
	if !ok {
		writeErr(rw, raw, &lifecycle.Error{Op: "get", World: raw, Kind: lifecycle.ErrNotLoaded})
		return
	}
	writeOK(rw, http.StatusOK, map[string]any{"world": viewOf(h)})
}

type createRequest struct {
	Name              string         `json:"name"`
	Seed              *int64         `json:"seed"`
	Dimension         string         `json:"dimension"`
	GameMode          string         `json:"game_mode"`
	Difficulty        string         `json:"difficulty"`
	Generator         string         `json:"generator"`
	GeneratorSettings map[string]any `json:"generator_settings"`
	Hardcore          *bool          `json:"hardcore"`
	MapFeatures       *bool          `json:"map_features"`
	Enabled           *bool          `json:"enabled"`
	LoadOnStartup     *bool          `json:"load_on_startup"`
	KeepLoaded        *bool          `json:"keep_loaded"`
	Creator           string         `json:"creator"`
}

// settings only sees requests that passed schema validation, so enum parsing
// cannot fail here.
func (req createRequest) settings() (worldinfo.Settings, error) {
	b := worldinfo.NewBuilder().Name(req.Name).Creator(req.Creator)
	if req.Seed != nil {
		b.Seed(*req.Seed)
	}
	if req.Dimension != "" {
		d, _ := worldinfo.ParseDimensionType(req.Dimension)
		b.Dimension(d)
	}
	if req.GameMode != "" {
		gm, _ := worldinfo.ParseGameMode(req.GameMode)
		b.GameMode(gm)
	}
	if req.Difficulty != "" {
		d, _ := worldinfo.ParseDifficulty(req.Difficulty)
		b.Difficulty(d)
	}
	if req.Generator != "" {
		b.Generator(req.Generator)
	}
	if req.GeneratorSettings != nil {
		b.GeneratorSettings(req.GeneratorSettings)
	}
	if req.Hardcore != nil {
		b.Hardcore(*req.Hardcore)
	}
	if req.MapFeatures != nil {
		b.MapFeatures(*req.MapFeatures)
	}
	if req.Enabled != nil {
		b.Enabled(*req.Enabled)
	}
	if req.LoadOnStartup != nil {
		b.LoadOnStartup(*req.LoadOnStartup)
	}
	if req.KeepLoaded != nil {
		b.KeepLoaded(*req.KeepLoaded)
	}
	return b.Settings()
}

func (a *adminAPI) create(rw http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !a.decode(rw, r, a.createSchema, &req) {
		return
	}
	s, err := req.settings()
	if err != nil {
		writeErr(rw, req.Name, &lifecycle.Error{Op: "create", World: req.Name, Kind: lifecycle.ErrInvalidName, Err: err})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if truthy(r.URL.Query().Get("load")) {
		h, err := a.mgr.Build(ctx, s)
		if err != nil {
			a.fail(rw, "build", req.Name, err)
			return
		}
		writeOK(rw, http.StatusCreated, map[string]any{"world": viewOf(h)})
		return
	}
	rec, err := a.mgr.Create(ctx, s)
	if err != nil {
		a.fail(rw, "create", req.Name, err)
		return
	}
	writeOK(rw, http.StatusCreated, map[string]any{"record": rec})
}

func (a *adminAPI) load(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	h, err := a.mgr.LoadByName(ctx, name)
	if err != nil {
		a.fail(rw, "load", name, err)
		return
	}
	if h == nil {
		writeErr(rw, name, &lifecycle.Error{Op: "load", World: name, Kind: lifecycle.ErrNotLoaded, Err: errors.New("no stored record")})
		return
	}
	writeOK(rw, http.StatusOK, map[string]any{"world": viewOf(h)})
}

func (a *adminAPI) unload(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h, ok := a.mgr.FindByName(name)
	if !ok {
		writeErr(rw, name, &lifecycle.Error{Op: "unload", World: name, Kind: lifecycle.ErrNotLoaded})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	done, err := a.mgr.Unload(ctx, h)
	if err != nil {
		a.fail(rw, "unload", name, err)
		return
	}
	if !done {
		writeErr(rw, name, &lifecycle.Error{Op: "unload", World: name, Kind: lifecycle.ErrNotLoaded, Err: errors.New("handle no longer current")})
		return
	}
	writeOK(rw, http.StatusOK, map[string]any{"world": name, "unloaded": true})
}

type propertiesRequest struct {
	GameMode      string `json:"game_mode"`
	Difficulty    string `json:"difficulty"`
	Hardcore      *bool  `json:"hardcore"`
	MapFeatures   *bool  `json:"map_features"`
	Enabled       *bool  `json:"enabled"`
	LoadOnStartup *bool  `json:"load_on_startup"`
	KeepLoaded    *bool  `json:"keep_loaded"`
}

func (p propertiesRequest) apply(r *worldinfo.Record) {
	if p.GameMode != "" {
		r.GameMode, _ = worldinfo.ParseGameMode(p.GameMode)
	}
	if p.Difficulty != "" {
		r.Difficulty, _ = worldinfo.ParseDifficulty(p.Difficulty)
	}
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&r.Hardcore, p.Hardcore)
	set(&r.MapFeatures, p.MapFeatures)
	set(&r.Enabled, p.Enabled)
	set(&r.LoadOnStartup, p.LoadOnStartup)
	set(&r.KeepLoaded, p.KeepLoaded)
}

func (a *adminAPI) properties(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req propertiesRequest
	if !a.decode(rw, r, a.propsSchema, &req) {
		return
	}
	id, ok := a.resolveID(name)
	if !ok {
		writeErr(rw, name, &lifecycle.Error{Op: "update", World: name, Kind: lifecycle.ErrNotLoaded})
		return
	}
	rec, err := a.mgr.UpdateProperties(r.Context(), id, req.apply)
	if err != nil {
		a.fail(rw, "update", name, err)
		return
	}
	writeOK(rw, http.StatusOK, map[string]any{"record": rec})
}

// resolveID finds a world by name among loaded worlds first, then among every
// record this process has seen.
func (a *adminAPI) resolveID(name string) (uuid.UUID, bool) {
	if h, ok := a.mgr.FindByName(name); ok {
		return h.ID(), true
	}
	for _, rec := range a.mgr.Known() {
		if rec.Name == name {
			return rec.UniqueID, true
		}
	}
	return uuid.Nil, false
}

func (a *adminAPI) difficulty(rw http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("value")
	d, err := worldinfo.ParseDifficulty(raw)
	if err != nil {
		writeBadRequest(rw, "", "E_BAD_REQUEST", err.Error())
		return
	}
	n := a.mgr.SetDifficultyForAll(d)
	a.log.Info("difficulty set", zap.String("difficulty", string(d)), zap.Int("changed", n))
	writeOK(rw, http.StatusOK, map[string]any{"difficulty": d, "changed": n})
}

func (a *adminAPI) flush(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := a.mgr.FlushState(ctx); err != nil {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": "E_TIMEOUT", "message": err.Error()})
		return
	}
	writeOK(rw, http.StatusOK, map[string]any{"flushed": true})
}

// decode reads a JSON body, validates it against schema and unmarshals it into
// dst. It writes the error reply itself and reports whether to continue.
func (a *adminAPI) decode(rw http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) bool {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeBadRequest(rw, "", "E_BAD_REQUEST", err.Error())
		return false
	}
	if len(b) > maxBodyBytes {
		writeBadRequest(rw, "", "E_BAD_REQUEST", "body too large")
		return false
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		writeBadRequest(rw, "", "E_BAD_REQUEST", "invalid json: "+err.Error())
		return false
	}
	if err := schema.Validate(doc); err != nil {
		writeBadRequest(rw, "", "E_SCHEMA", err.Error())
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		writeBadRequest(rw, "", "E_BAD_REQUEST", err.Error())
		return false
	}
	return true
}

func (a *adminAPI) fail(rw http.ResponseWriter, op, world string, err error) {
	if lifecycle.KindOf(err) == nil {
		err = &lifecycle.Error{Op: op, World: world, Kind: lifecycle.ErrIO, Err: err}
	}
	a.log.Warn("admin request failed", zap.String("op", op), zap.String("world", world), zap.Error(err))
	writeErr(rw, world, err)
}

func statusOf(err error) int {
	switch lifecycle.KindOf(err) {
	case lifecycle.ErrInvalidName:
		return http.StatusBadRequest
	case lifecycle.ErrNameCollision:
		return http.StatusConflict
	case lifecycle.ErrSlotExhausted:
		return http.StatusServiceUnavailable
	case lifecycle.ErrCannotUnloadRoot:
		return http.StatusForbidden
	case lifecycle.ErrNotLoaded:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeOK(rw http.ResponseWriter, status int, body map[string]any) {
	body["ok"] = true
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(body)
}

func writeErr(rw http.ResponseWriter, world string, err error) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusOf(err))
	_ = json.NewEncoder(rw).Encode(map[string]any{
		"ok":      false,
		"world":   world,
		"error":   lifecycle.Code(err),
		"message": err.Error(),
	})
}

func writeBadRequest(rw http.ResponseWriter, world, code, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "world": world, "error": code, "message": msg})
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}
