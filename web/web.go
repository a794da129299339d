// Package web renders the gateway's HTML pages from embedded templates.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"strings"

	"github.com/davon-library/webgate/guard"
	"github.com/davon-library/webgate/token"
)

//go:embed templates/*.html
var templates embed.FS

//go:embed static
var static embed.FS

// Section is a dashboard area and the roles that may open it.
type Section struct {
	Name  string
	Title string
	Path  string
	Roles []string
	// Resources are gateway endpoints the page lists through the proxy.
	Resources []Resource
}

// Resource is a collection rendered on a dashboard page.
type Resource struct {
	Title    string
	Endpoint string
}

// Sections lists the dashboard areas. Empty Roles means any signed-in user.
var Sections = []Section{
	{
		Name: "member", Title: "My library", Path: "/dashboard",
		Resources: []Resource{
			{Title: "My loans", Endpoint: "/api/loans"},
			{Title: "My reservations", Endpoint: "/api/reservations"},
			{Title: "My fines", Endpoint: "/api/fines"},
			{Title: "Catalogue", Endpoint: "/api/books"},
		},
	},
	{
		Name: "librarian", Title: "Circulation desk", Path: "/dashboard/librarian",
		Roles: []string{token.RoleLibrarian, token.RoleAdmin},
		Resources: []Resource{
			{Title: "Catalogue", Endpoint: "/api/books"},
			{Title: "Reservations", Endpoint: "/api/reservations?scope=admin"},
		},
	},
	{
		Name: "admin", Title: "Administration", Path: "/dashboard/admin",
		Roles: []string{token.RoleAdmin},
		Resources: []Resource{
			{Title: "Users", Endpoint: "/api/admin/users"},
			{Title: "Active loans", Endpoint: "/api/loans?scope=admin-active"},
			{Title: "All fines", Endpoint: "/api/fines?scope=admin"},
		},
	},
}

// Pages renders every page template.
type Pages struct {
	tmpl   *template.Template
	assets http.Handler
}

// New parses the embedded templates.
func New() (*Pages, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"join": strings.Join,
	}).ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing page templates: %w", err)
	}
	sub, err := fs.Sub(static, "static")
	if err != nil {
		return nil, fmt.Errorf("loading static assets: %w", err)
	}
	return &Pages{tmpl: tmpl, assets: http.FileServer(http.FS(sub))}, nil
}

// Static serves the stylesheet and script. Mount it under /static/.
func (p *Pages) Static() http.Handler {
	return http.StripPrefix("/static/", p.assets)
}

type pageData struct {
	Title     string
	Principal *token.Principal
	Roles     []string
	Next      string
	Section   *Section
	Visible   []Section
}

// Login renders the sign-in form. The form posts to the gateway login relay
// and then follows the "next" parameter.
func (p *Pages) Login() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.render(w, http.StatusOK, "login.html", pageData{
			Title: "Sign in",
			Next:  safeNext(r.URL.Query().Get("next")),
		})
	})
}

// Unauthorized renders the page guards send role mismatches to.
func (p *Pages) Unauthorized() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.render(w, http.StatusOK, "unauthorized.html", pageData{Title: "Not allowed"})
	})
}

// Dashboard renders section. It must sit behind a guard.Guard.
func (p *Pages) Dashboard(section Section) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := p.signedIn(w, r, section.Title)
		if !ok {
			return
		}
		data.Section = &section
		p.render(w, http.StatusOK, "dashboard.html", data)
	})
}

// Profile renders the signed-in user's profile page.
func (p *Pages) Profile() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := p.signedIn(w, r, "Profile")
		if !ok {
			return
		}
		p.render(w, http.StatusOK, "profile.html", data)
	})
}

func (p *Pages) signedIn(w http.ResponseWriter, r *http.Request, title string) (pageData, bool) {
	principal, ok := guard.PrincipalFrom(r.Context())
	if !ok {
		// Reached without a guard in front.
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return pageData{}, false
	}
	data := pageData{
		Title:     title,
		Principal: &principal,
		Roles:     principal.Roles.Slice(),
	}
	for _, s := range Sections {
		if len(s.Roles) == 0 || token.NewRoleSet(s.Roles...).Intersects(principal.Roles) {
			data.Visible = append(data.Visible, s)
		}
	}
	return data, true
}

func (p *Pages) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// safeNext keeps post-login redirects on this origin.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return "/dashboard"
	}
	u, err := url.Parse(next)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return "/dashboard"
	}
	return next
}
