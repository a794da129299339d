package proxy

import (
	"net/http"

	"github.com/davon-library/webgate/token"
)

var (
	adminOnly = token.NewRoleSet(token.RoleAdmin)
	staff     = token.NewRoleSet(token.RoleAdmin, token.RoleLibrarian)
)

// LibraryRoutes returns the route table for the library API. Patterns are
// relative to the mount point, usually "/api".
func LibraryRoutes() []Route {
	return []Route{
		{Name: "books.list", Method: http.MethodGet, Pattern: "/books", Upstream: "/books", Public: true},
		{Name: "books.create", Method: http.MethodPost, Pattern: "/books", Upstream: "/books"},
		{Name: "books.get", Method: http.MethodGet, Pattern: "/books/{id}", Upstream: "/books/{id}"},
		{Name: "books.update", Method: http.MethodPut, Pattern: "/books/{id}", Upstream: "/books/{id}"},
		{Name: "books.delete", Method: http.MethodDelete, Pattern: "/books/{id}", Upstream: "/books/{id}"},

		{
			Name: "loans.list", Method: http.MethodGet, Pattern: "/loans", Upstream: "/loans",
			Scopes: map[string]Scope{
				"admin-active": {Upstream: "/admin/dashboard/loans/active", Required: adminOnly},
			},
		},
		{
			Name: "loans.borrow", Method: http.MethodPost, Pattern: "/loans/borrow", Upstream: "/loans/borrow",
			Query: []string{"bookId"}, RequiredQuery: []string{"bookId"},
		},
		{
			Name: "loans.return", Method: http.MethodPut, Pattern: "/loans/return", Upstream: "/loans/{loanId}/return",
			RequiredQuery: []string{"loanId"},
		},
		{Name: "loans.update", Method: http.MethodPut, Pattern: "/loans/{id}", Upstream: "/loans/{id}"},
		{Name: "loans.return-by-id", Method: http.MethodPut, Pattern: "/loans/{id}/return", Upstream: "/loans/{id}/return"},

		{
			Name: "reservations.list", Method: http.MethodGet, Pattern: "/reservations", Upstream: "/dashboard/reservations",
			Scopes: map[string]Scope{
				"admin": {Upstream: "/reservations", Required: staff},
			},
		},
		{Name: "reservations.create", Method: http.MethodPost, Pattern: "/reservations", Upstream: "/reservations"},
		{Name: "reservations.update", Method: http.MethodPut, Pattern: "/reservations/{id}", Upstream: "/reservations/{id}"},
		{Name: "reservations.delete", Method: http.MethodDelete, Pattern: "/reservations/{id}", Upstream: "/reservations/{id}"},
		{Name: "reservations.cancel", Method: http.MethodPost, Pattern: "/reservations/{id}/cancel", Upstream: "/reservations/{id}/cancel"},

		{
			Name: "fines.list", Method: http.MethodGet, Pattern: "/fines", Upstream: "/fines/my",
			Scopes: map[string]Scope{
				"admin": {Upstream: "/fines", Required: adminOnly},
			},
		},
		{
			Name: "fines.pay", Method: http.MethodPut, Pattern: "/fines", Upstream: "/fines/{id}/pay",
			RequiredQuery: []string{"id"},
		},

		{Name: "profile.get", Method: http.MethodGet, Pattern: "/profile", Upstream: "/profile"},
		{Name: "profile.update", Method: http.MethodPut, Pattern: "/profile", Upstream: "/profile"},
		{
			Name: "profile.change-password", Method: http.MethodPost, Pattern: "/profile/change-password",
			Upstream: "/profile/change-password", NoContentOnSuccess: true,
		},

		{Name: "users.update", Method: http.MethodPut, Pattern: "/users/{id}", Upstream: "/users/{id}"},
		{Name: "users.delete", Method: http.MethodDelete, Pattern: "/users/{id}", Upstream: "/users/{id}"},
		{Name: "admin.users", Method: http.MethodGet, Pattern: "/admin/users", Upstream: "/admin/users", Required: adminOnly},
	}
}
