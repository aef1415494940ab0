package handler

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"discogs-gateway/internal/apierror"
)

// supportedSearchParams are the query names /database/search accepts.
var supportedSearchParams = []string{
	"q", "type", "title", "release_title", "credit", "artist", "anv", "label",
	"genre", "style", "country", "year", "format", "catno", "barcode", "track",
	"submitter", "contributor", "page", "per_page", "sort", "sort_order",
}

// listingRequiredFields must be present in a marketplace listing body.
var listingRequiredFields = []string{"release_id", "condition", "price"}

type artistPath struct {
	ArtistID string `param:"artist_id" validate:"required,number"`
}

type labelPath struct {
	LabelID string `param:"label_id" validate:"required,number"`
}

type masterPath struct {
	MasterID string `param:"master_id" validate:"required,number"`
}

type releasePath struct {
	ReleaseID string `param:"release_id" validate:"required,number"`
}

type listingPath struct {
	ListingID string `param:"listing_id" validate:"required,number"`
}

type userPath struct {
	Username string `param:"username" validate:"required,excludesall=/,ne=.,ne=.."`
}

type wantPath struct {
	Username  string `param:"username" validate:"required,excludesall=/,ne=.,ne=.."`
	ReleaseID string `param:"release_id" validate:"required,number"`
}

type collectionPath struct {
	Username  string `param:"username" validate:"required,excludesall=/,ne=.,ne=.."`
	FolderID  string `param:"folder_id" validate:"required,number"`
	ReleaseID string `param:"release_id" validate:"required,number"`
}

// unescape decodes a percent-encoded path segment. Undecodable input is kept.
func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}

// Usernames are validated in decoded form so an encoded slash cannot add
// path segments upstream.
func (p *userPath) normalize() { p.Username = unescape(p.Username) }
func (p *wantPath) normalize() { p.Username = unescape(p.Username) }
func (p *collectionPath) normalize() { p.Username = unescape(p.Username) }

// ArtistReleases handles GET /api/artists/:artist_id/releases.
func (h *ProxyHandler) ArtistReleases(c echo.Context) error {
	var p artistPath
	if err := h.bindPath(c, &p); err != nil {
		return err.Write(c)
	}
	return h.forward(c, "artists", http.MethodGet, "/artists/"+p.ArtistID+"/releases")
}

// CollectionAdd handles POST /api/users/:username/collection/folders/:folder_id/releases/:release_id.
func (h *ProxyHandler) CollectionAdd(c echo.Context) error {
	var p collectionPath
	if err := h.bindPath(c, &p); err != nil {
		return err.Write(c)
	}
	return h.forward(c, "collection", http.MethodPost,
		"/users/"+p.Username+"/collection/folders/"+p.FolderID+"/releases/"+p.ReleaseID)
}

// Label handles GET /api/labels/:label_id.
func (h *ProxyHandler) Label(c echo.Context) error {
	var p labelPath
	if err := h.bindPath(c, &p); err != nil {
		return err.Write(c)
	}
	return h.forward(c, "labels", http.MethodGet, "/labels/"+p.LabelID)
}

// LabelSub handles GET /api/labels/:label_id/:sub for releases and sublabels.
func (h *ProxyHandler) LabelSub(c echo.Context) error {
	var p labelPath
	if err := h.bindPath(c, &p); err != nil {
		return err.Write(c)
	}
	sub := strings.ToLower(c.Param("sub"))
	if sub != "releases" && sub != "sublabels" {
		return apierror.New(apierror.NotFound, "").Write(c)
	}
	return h.forward(c, "labels", http.MethodGet, "/labels/"+p.LabelID+"/"+sub)
}

// Master handles GET /api/masters/:master_id.
func (h *ProxyHandler) Master(c echo.Context) error {
	var p masterPath
	if err := h.bindPath(c, &p); err != nil {
		return err.Write(c)
	}
	return h.forward(c, "masters", http.MethodGet, "/masters/"+p.MasterID)
}

// MasterSub handles GET /api/masters/:master_id/:sub; only versions exists.
func (h *ProxyHandler) MasterSub(c echo.Context) error {
	var p masterPath
	if err := h.bindPath(c, &p); err != nil {
		return err.Write(c)
	}
	if !strings.EqualFold(c.Param("sub"), "versions") {
		return apierror.New(apierror.NotFound, "").Write(c)
	}
	return h.forward(c, "masters", http.MethodGet, "/masters/"+p.MasterID+"/versions")
}

// ListingCreate handles POST /api/marketplace/listings.
func (h *ProxyHandler) ListingCreate(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return apierror.Invalid("invalid_json").Write(c)
	}
	check := body
	if len(strings.TrimSpace(string(check))) == 0 {
		check = []byte("{}")
	}
	if !gjson.ValidBytes(check) {
		return apierror.Invalid("invalid_json").Write(c)
	}
	var missing []string
	for _, f := range listingRequiredFields {
		if !gjson.GetBytes(check, f).Exists() {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		e := apierror.Invalid("missing_fields")
		e.Fields = strings.Join(missing, ",")
		return e.Write(c)
	}
	return h.forward(c, "marketplace", http.MethodPost, "/marketplace/listings", withBody(body))
}

// ListingDelete handles DELETE /api/marketplace/listings/:listing_id.
func (h *ProxyHandler) ListingDelete(c echo.Context) error {
	var p listingPath
	if err := h.bindPath(c, &p); err != nil {
		return err.Write(c)
	}
	return h.forward(c, "marketplace", http.MethodDelete, "/marketplace/listings/"+p.ListingID)
}

// PriceSuggestions handles GET /api/marketplace/price_suggestions/:release_id.
// The upstream only answers authenticated users, so a missing token fails locally.
func (h *ProxyHandler) PriceSuggestions(c echo.Context) error {
	var p releasePath
	if err := h.bindPath(c, &p); err != nil {
		return err.Write(c)
	}
	return h.forward(c, "marketplace", http.MethodGet, "/marketplace/price_suggestions/"+p.ReleaseID, requireToken)
}

// Release handles GET /api/releases/:release_id.
func (h *ProxyHandler) Release(c echo.Context) error {
	var p releasePath
	if err := h.bindPath(c, &p); err != nil {
		return err.Write(c)
	}
	return h.forward(c, "releases", http.MethodGet, "/releases/"+p.ReleaseID)
}

// Wantlist handles GET /api/users/:username/wants.
func (h *ProxyHandler) Wantlist(c echo.Context) error {
	var p userPath
	if err := h.bindPath(c, &p); err != nil {
		return err.Write(c)
	}
	return h.forward(c, "wantlist", http.MethodGet, "/users/"+p.Username+"/wants")
}

// WantlistUpsert handles PUT /api/users/:username/wants/:release_id.
func (h *ProxyHandler) WantlistUpsert(c echo.Context) error {
	var p wantPath
	if err := h.bindPath(c, &p); err != nil {
		return err.Write(c)
	}
	return h.forward(c, "wantlist", http.MethodPut, "/users/"+p.Username+"/wants/"+p.ReleaseID)
}

// DatabaseSearch handles GET /api/database/search. At least one supported
// query parameter must be present; unknown ones are passed through.
func (h *ProxyHandler) DatabaseSearch(c echo.Context) error {
	q := c.QueryParams()
	found := false
	for _, name := range supportedSearchParams {
		if _, ok := q[name]; ok {
			found = true
			break
		}
	}
	if !found {
		e := apierror.New(apierror.InvalidRequest, "")
		e.Reason = apierror.ReasonNoSupportedSearchArg
		return e.Write(c)
	}
	return h.forward(c, "database", http.MethodGet, "/database/search", withTimeout(h.searchTimeout))
}

func readBody(c echo.Context) ([]byte, error) {
	if c.Request().Body == nil {
		return nil, nil
	}
	return io.ReadAll(c.Request().Body)
}
