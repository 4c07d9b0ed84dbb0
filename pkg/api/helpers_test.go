package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tasknest/tasknest/pkg/auth"
	"github.com/tasknest/tasknest/pkg/rbac"
)

// fakeTokens resolves "token-<userID>" to that user
type fakeTokens map[string]*auth.User

func (f fakeTokens) ResolveToken(_ context.Context, token string) (*auth.AuthContext, error) {
	for id, u := range f {
		if token == "token-"+id {
			return &auth.AuthContext{User: u}, nil
		}
	}
	return nil, auth.ErrInvalidToken
}

var testUsers = fakeTokens{
	"owner":  {ID: "owner", Email: "owner@example.com"},
	"editor": {ID: "editor", Email: "editor@example.com"},
	"viewer": {ID: "viewer", Email: "viewer@example.com"},
	"alien":  {ID: "alien", Email: "alien@example.com"},
}

// fakeAccess serves board b1 owned by "owner" with an editor and a viewer
type fakeAccess struct{}

func (fakeAccess) LookupBoardAccess(_ context.Context, boardID, userID string) (*rbac.BoardAccess, error) {
	if boardID != "b1" {
		return nil, rbac.ErrBoardNotFound
	}
	access := &rbac.BoardAccess{OwnerID: "owner"}
	switch userID {
	case "editor":
		role := rbac.RoleEditor
		access.MemberRole = &role
	case "viewer":
		role := rbac.RoleViewer
		access.MemberRole = &role
	}
	return access, nil
}

func doRequest(t *testing.T, h http.Handler, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer token-"+userID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest))
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, w, &body)
	return body.Error
}
