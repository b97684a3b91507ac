package server

import (
	"net/http"

	"github.com/probatio/probatio/internal/handlers"
)

// MethodRouter maps HTTP methods to handlers.
type MethodRouter map[string]http.HandlerFunc

// RouteByMethod routes requests based on HTTP method with standardized error handling
func RouteByMethod(w http.ResponseWriter, r *http.Request, routes MethodRouter) {
	handler, ok := routes[r.Method]
	if !ok {
		handlers.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method "+r.Method+" is not allowed for this resource")
		return
	}
	handler(w, r)
}

// RouteCollection handles the standard list + create pattern.
// GET -> list, POST -> create
func RouteCollection(w http.ResponseWriter, r *http.Request, list, create http.HandlerFunc) {
	routes := make(MethodRouter)
	if list != nil {
		routes[http.MethodGet] = list
	}
	if create != nil {
		routes[http.MethodPost] = create
	}
	RouteByMethod(w, r, routes)
}

// RouteItem handles the standard get + update + delete pattern.
func RouteItem(w http.ResponseWriter, r *http.Request, get, update, del http.HandlerFunc) {
	routes := make(MethodRouter)
	if get != nil {
		routes[http.MethodGet] = get
	}
	if update != nil {
		routes[http.MethodPut] = update
	}
	if del != nil {
		routes[http.MethodDelete] = del
	}
	RouteByMethod(w, r, routes)
}
