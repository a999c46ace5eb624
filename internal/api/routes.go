// Package api provides HTTP handlers for the SpatialBridge server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/spatialbridge/server/internal/annostore"
	"github.com/spatialbridge/server/internal/scatter"
	"github.com/spatialbridge/server/internal/sdata"
	"github.com/spatialbridge/server/internal/session"
	"github.com/spatialbridge/server/internal/track"
	"github.com/spatialbridge/server/internal/transform"
	"github.com/spatialbridge/server/internal/viewer"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Session     *session.Session
	Annotations *annostore.Store
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s := cfg.Session

	r.Route("/api", func(r chi.Router) {
		r.Get("/datasets", datasetsHandler(s))
		r.Get("/coordinate_systems", coordinateSystemsHandler(s))
		r.Post("/coordinate_systems/select", selectCoordinateSystemHandler(s))
		r.Get("/catalog", catalogHandler(s))

		r.Route("/layers", func(r chi.Router) {
			r.Get("/", listLayersHandler(s))
			r.Post("/", addElementHandler(s))
			r.Post("/free", addFreeLayerHandler(s))
			r.Post("/inherit", inheritHandler(s))
			r.Route("/{layer_id}", func(r chi.Router) {
				r.Delete("/", removeLayerHandler(s))
				r.Post("/visibility", visibilityHandler(s))
				r.Post("/rename", renameHandler(s))
				r.Post("/table", setTableHandler(s))
				r.Post("/rows/remove", removeRowsHandler(s))
				r.Post("/rows/add", addRowsHandler(s))
				r.Post("/rows/change", changeRowsHandler(s))
				r.Get("/events", eventsHandler(s))
				r.Post("/save", saveHandler(s))
			})
		})

		r.Post("/plot", plotHandler(s))
		r.Post("/lasso", lassoHandler(s))
		r.Post("/selection/export", exportSelectionHandler(s))

		if cfg.Annotations != nil {
			r.Route("/annotation", func(r chi.Router) {
				r.Get("/classes", listClassesHandler(cfg.Annotations))
				r.Post("/classes", createClassHandler(cfg.Annotations))
				r.Delete("/classes/{class_id}", deleteClassHandler(cfg.Annotations))
				r.Get("/assignments", listAssignmentsHandler(cfg.Annotations))
				r.Post("/assignments", assignHandler(cfg.Annotations))
			})
		}
	})

	return r
}

type layerDTO struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Kind         string     `json:"kind"`
	Visible      bool       `json:"visible"`
	Free         bool       `json:"free"`
	DatasetIndex int        `json:"dataset_index"`
	OriginalName string     `json:"original_name,omitempty"`
	CurrentCS    string     `json:"current_coordinate_system,omitempty"`
	ActiveIn     []string   `json:"active_coordinate_systems"`
	Rows         int        `json:"rows"`
	Affine       [6]float64 `json:"affine"`
}

func toLayerDTO(l *viewer.Layer) layerDTO {
	active := l.Meta.ActiveInSystems()
	sort.Strings(active)
	if active == nil {
		active = []string{}
	}
	return layerDTO{
		ID:           l.ID,
		Name:         l.Name,
		Kind:         l.Kind.String(),
		Visible:      l.Visible,
		Free:         l.IsFree(),
		DatasetIndex: l.Meta.DatasetIndex,
		OriginalName: l.Meta.OriginalName,
		CurrentCS:    l.Meta.CurrentCS,
		ActiveIn:     active,
		Rows:         l.RowCount(),
		Affine: [6]float64{
			l.Affine.A, l.Affine.B, l.Affine.TX,
			l.Affine.C, l.Affine.D, l.Affine.TY,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sdata.ErrElementNotFound),
		errors.Is(err, sdata.ErrTableNotFound),
		errors.Is(err, sdata.ErrColumnNotFound),
		errors.Is(err, session.ErrLayerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sdata.ErrNameCollision),
		errors.Is(err, track.ErrCannotSaveExistingElement),
		errors.Is(err, track.ErrStaleIndexMap):
		status = http.StatusConflict
	case errors.Is(err, sdata.ErrUnsupportedElementKind),
		errors.Is(err, track.ErrEmptyGeometry),
		errors.Is(err, track.ErrUnsupportedForCommit),
		errors.Is(err, track.ErrNotTracked),
		errors.Is(err, viewer.ErrNoDatasetInSelection),
		errors.Is(err, viewer.ErrAmbiguousDatasetSelection),
		errors.Is(err, scatter.ErrNoSelectionMade),
		errors.Is(err, scatter.ErrVectorLengthMismatch),
		errors.Is(err, transform.ErrNoCoordinateSystem):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func datasetsHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type dto struct {
			Index    int      `json:"index"`
			Name     string   `json:"name"`
			Elements []string `json:"elements"`
			Tables   []string `json:"tables"`
		}
		var out []dto
		for i, d := range s.Datasets() {
			var names []string
			for _, el := range d.Elements() {
				names = append(names, el.Name)
			}
			out = append(out, dto{Index: i, Name: d.Name(), Elements: names, Tables: d.TableNames()})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func coordinateSystemsHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"coordinate_systems": s.CoordinateSystems(),
			"current":            s.CurrentCoordinateSystem(),
		})
	}
}

func selectCoordinateSystemHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			System string `json:"system"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.System == "" {
			writeError(w, transform.ErrNoCoordinateSystem)
			return
		}
		if err := s.SelectCoordinateSystem(req.System); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"current": req.System})
	}
}

func catalogHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat := s.Catalog()
		if cat == nil {
			writeJSON(w, http.StatusOK, []interface{}{})
			return
		}
		type entry struct {
			DisplayName  string `json:"display_name"`
			Kind         string `json:"kind"`
			DatasetIndex int    `json:"dataset_index"`
			OriginalName string `json:"original_name"`
		}
		var out []entry
		for _, name := range cat.DisplayNames() {
			e, _ := cat.Lookup(name)
			out = append(out, entry{
				DisplayName:  name,
				Kind:         e.Kind.String(),
				DatasetIndex: e.DatasetIndex,
				OriginalName: e.OriginalName,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listLayersHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]layerDTO, 0)
		for _, l := range s.Layers() {
			out = append(out, toLayerDTO(l))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func addElementHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DisplayName string `json:"display_name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		l, err := s.AddElement(req.DisplayName)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toLayerDTO(l))
	}
}

func addFreeLayerHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		kind, err := sdata.ParseKind(req.Kind)
		if err != nil {
			writeError(w, err)
			return
		}
		l := s.AddFreeLayer(req.Name, kind)
		writeJSON(w, http.StatusCreated, toLayerDTO(l))
	}
}

func inheritHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			LayerIDs []string `json:"layer_ids"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.Inherit(req.LayerIDs); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func removeLayerHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.RemoveLayer(chi.URLParam(r, "layer_id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func visibilityHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Visible bool `json:"visible"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "layer_id")
		if err := s.SetVisibility(id, req.Visible); err != nil {
			writeError(w, err)
			return
		}
		l, err := s.Layer(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toLayerDTO(l))
	}
}

func renameHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		accepted, err := s.RenameLayer(chi.URLParam(r, "layer_id"), req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": accepted})
	}
}

func setTableHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Table string `json:"table"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.SetLayerTable(chi.URLParam(r, "layer_id"), req.Table); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func removeRowsHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Positions []int `json:"positions"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.RemoveRows(chi.URLParam(r, "layer_id"), req.Positions); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func addRowsHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Count int `json:"count"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.AddRows(chi.URLParam(r, "layer_id"), req.Count); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func changeRowsHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Positions []int `json:"positions"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.ChangeRows(chi.URLParam(r, "layer_id"), req.Positions); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func eventsHandler(s *session.Session) http.HandlerFunc {
	kinds := map[track.EventKind]string{
		track.EventAdd:    "add",
		track.EventRemove: "remove",
		track.EventChange: "change",
	}
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := s.Events(chi.URLParam(r, "layer_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		type dto struct {
			Kind   string  `json:"kind"`
			RowIDs []int64 `json:"row_ids"`
		}
		out := make([]dto, 0, len(events))
		for _, e := range events {
			out = append(out, dto{Kind: kinds[e.Kind], RowIDs: e.RowIDs})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func saveHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DatasetIndex int `json:"dataset_index"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		display, err := s.SaveLayer(chi.URLParam(r, "layer_id"), req.DatasetIndex)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"display_name": display})
	}
}

func plotHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req session.PlotRequest
		if !decodeBody(w, r, &req) {
			return
		}
		img, err := s.Plot(req)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(img)
	}
}

func lassoHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Vertices [][2]float64 `json:"vertices"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		mask, err := s.Lasso(req.Vertices)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"mask": mask})
	}
}

func exportSelectionHandler(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DatasetIndex int    `json:"dataset_index"`
			Table        string `json:"table"`
			Column       string `json:"column"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.ExportSelection(req.DatasetIndex, req.Table, req.Column); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listClassesHandler(store *annostore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		classes, err := store.ListClasses()
		if err != nil {
			writeError(w, err)
			return
		}
		if classes == nil {
			classes = []annostore.Class{}
		}
		writeJSON(w, http.StatusOK, classes)
	}
}

func createClassHandler(store *annostore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		c, err := store.CreateClass(req.Name, req.Color)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func deleteClassHandler(store *annostore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "class_id"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid class id"})
			return
		}
		if err := store.DeleteClass(id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listAssignmentsHandler(store *annostore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dataset := r.URL.Query().Get("dataset")
		element := r.URL.Query().Get("element")
		if dataset == "" || element == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing dataset or element"})
			return
		}
		got, err := store.AssignmentsFor(dataset, element)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, got)
	}
}

func assignHandler(store *annostore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req annostore.Assignment
		if !decodeBody(w, r, &req) {
			return
		}
		if err := store.Assign(req); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
