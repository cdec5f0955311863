package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"qerplunk/ride-share/auth"
	"qerplunk/ride-share/store"
	"qerplunk/ride-share/types"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

type fakePresence struct{ rooms, sessions int }

func (f fakePresence) Rooms() int    { return f.rooms }
func (f fakePresence) Sessions() int { return f.sessions }

type fakeLocations struct {
	records map[string][]types.LocationRecord
	err     error
}

func (f fakeLocations) Locations(_ context.Context, room string) ([]types.LocationRecord, error) {
	return f.records[room], f.err
}

type testAPI struct {
	t      *testing.T
	router *mux.Router
}

func newTestAPI(t *testing.T, locations LocationReader) *testAPI {
	t.Helper()

	ctx := context.Background()
	db, err := store.NewDatabase(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.CreateTables(ctx); err != nil {
		t.Fatal(err)
	}

	router := mux.NewRouter()
	NewServer(db, auth.NewTokenManager("test-secret", time.Hour), fakePresence{rooms: 2, sessions: 5}, locations).
		RegisterRoutes(router)

	return &testAPI{t: t, router: router}
}

func (a *testAPI) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// Registers a user and returns its token
func (a *testAPI) register(name string) string {
	a.t.Helper()

	rec := a.do(http.MethodPost, "/api/register", "", map[string]string{
		"firstName": name,
		"lastName":  "Tester",
		"email":     name + "@example.com",
		"mobile":    "0123456789",
		"address":   "1 Main St",
		"password":  "password1",
	})
	if rec.Code != http.StatusCreated {
		a.t.Fatalf("register %s: %d %s", name, rec.Code, rec.Body)
	}

	var resp struct {
		Token string `json:"token"`
	}
	decode(a.t, rec, &resp)
	return resp.Token
}

func (a *testAPI) host(token string, seats int) store.Ride {
	a.t.Helper()

	rec := a.do(http.MethodPost, "/api/rides/host", token, map[string]interface{}{
		"pickup": "Airport", "drop": "Downtown", "fare": 15, "seats": seats, "secretCode": "abcd",
	})
	if rec.Code != http.StatusCreated {
		a.t.Fatalf("host: %d %s", rec.Code, rec.Body)
	}

	var ride store.Ride
	decode(a.t, rec, &ride)
	return ride
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body, err)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	a := newTestAPI(t, nil)
	a.register("ana")

	rec := a.do(http.MethodPost, "/api/register", "", map[string]string{
		"firstName": "Ana", "lastName": "Again", "email": "ANA@example.com",
		"mobile": "0123456789", "address": "x", "password": "password1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate register: %d", rec.Code)
	}

	rec = a.do(http.MethodPost, "/api/login", "", map[string]string{"email": "ana@example.com", "password": "password1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body)
	}
	var resp struct {
		Token string                 `json:"token"`
		User  map[string]interface{} `json:"user"`
	}
	decode(t, rec, &resp)
	if resp.Token == "" || resp.User["email"] != "ana@example.com" {
		t.Errorf("login response = %+v", resp)
	}
	if _, leaked := resp.User["passwordHash"]; leaked {
		t.Error("password hash in response")
	}

	rec = a.do(http.MethodPost, "/api/login", "", map[string]string{"email": "ana@example.com", "password": "nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password login: %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	a := newTestAPI(t, nil)

	valid := func() map[string]string {
		return map[string]string{
			"firstName": "Ana", "lastName": "Tester", "email": "ana@example.com",
			"mobile": "0123456789", "address": "x", "password": "password1",
		}
	}

	tests := []struct {
		field, value, message string
	}{
		{"firstName", "", "All fields are required"},
		{"password", "", "All fields are required"},
		{"email", "not-an-email", "Invalid email format"},
		{"mobile", "12345", "Mobile must be 10 digits"},
		{"mobile", "01234567ab", "Mobile must be 10 digits"},
	}

	for _, tt := range tests {
		body := valid()
		body[tt.field] = tt.value

		rec := a.do(http.MethodPost, "/api/register", "", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s=%q: status %d", tt.field, tt.value, rec.Code)
			continue
		}
		var resp map[string]string
		decode(t, rec, &resp)
		if resp["message"] != tt.message {
			t.Errorf("%s=%q: message %q, want %q", tt.field, tt.value, resp["message"], tt.message)
		}
	}
}

func TestRideEndpointsRequireAuth(t *testing.T) {
	a := newTestAPI(t, nil)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/rides/active"},
		{http.MethodGet, "/api/rides/search?pickup=a"},
		{http.MethodPost, "/api/rides/host"},
		{http.MethodPost, "/api/rides/abc/join"},
		{http.MethodPost, "/api/rides/abc/complete"},
		{http.MethodGet, "/api/rides/abc/locations"},
		{http.MethodPut, "/api/rides/abc"},
		{http.MethodDelete, "/api/rides/abc"},
	} {
		if rec := a.do(route.method, route.path, "", nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: %d", route.method, route.path, rec.Code)
		}
	}

	if rec := a.do(http.MethodGet, "/api/rides", "", nil); rec.Code != http.StatusOK {
		t.Errorf("public ride list: %d", rec.Code)
	}
}

func TestRideFlow(t *testing.T) {
	a := newTestAPI(t, nil)
	hostToken := a.register("host")
	riderToken := a.register("rider")
	lateToken := a.register("late")

	if rec := a.do(http.MethodPost, "/api/rides/host", hostToken, map[string]interface{}{"pickup": "A", "drop": "", "seats": 1}); rec.Code != http.StatusBadRequest {
		t.Errorf("host without drop: %d", rec.Code)
	}

	ride := a.host(hostToken, 1)
	if ride.SecretCode != "abcd" {
		t.Errorf("host should see the secret code, got %q", ride.SecretCode)
	}

	var listed []store.Ride
	rec := a.do(http.MethodGet, "/api/rides", "", nil)
	decode(t, rec, &listed)
	if len(listed) != 1 || listed[0].SecretCode != "" {
		t.Fatalf("public list = %+v", listed)
	}

	join := "/api/rides/" + ride.ID + "/join"
	rec = a.do(http.MethodPost, join, riderToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("join: %d %s", rec.Code, rec.Body)
	}
	var joined store.Ride
	decode(t, rec, &joined)
	if len(joined.Passengers) != 1 || joined.SecretCode != "" {
		t.Errorf("joined ride = %+v", joined)
	}

	for name, tc := range map[string]struct {
		path, token string
		status      int
	}{
		"already joined": {join, riderToken, http.StatusBadRequest},
		"no seats":       {join, lateToken, http.StatusBadRequest},
		"unknown ride":   {"/api/rides/" + "00000000-0000-0000-0000-000000000000/join", lateToken, http.StatusNotFound},
	} {
		if rec := a.do(http.MethodPost, tc.path, tc.token, nil); rec.Code != tc.status {
			t.Errorf("%s: %d, want %d", name, rec.Code, tc.status)
		}
	}

	rec = a.do(http.MethodGet, "/api/rides/search?pickup=AIR", riderToken, nil)
	var found []store.Ride
	decode(t, rec, &found)
	if len(found) != 1 {
		t.Errorf("search found %d rides", len(found))
	}

	update := map[string]interface{}{"pickup": "Station", "drop": "Harbor", "fare": 9.5, "seats": 3}
	if rec := a.do(http.MethodPut, "/api/rides/"+ride.ID, riderToken, update); rec.Code != http.StatusForbidden {
		t.Errorf("non-host update: %d", rec.Code)
	}
	rec = a.do(http.MethodPut, "/api/rides/"+ride.ID, hostToken, update)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body)
	}
	var updated store.Ride
	decode(t, rec, &updated)
	if updated.Pickup != "Station" || updated.Seats != 3 || updated.SecretCode != "abcd" {
		t.Errorf("updated = %+v", updated)
	}

	var history struct {
		Hosted []store.Ride `json:"hosted"`
		Joined []store.Ride `json:"joined"`
	}
	decode(t, a.do(http.MethodGet, "/api/user/history", riderToken, nil), &history)
	if len(history.Hosted) != 0 || len(history.Joined) != 1 {
		t.Errorf("rider history = %+v", history)
	}

	if rec := a.do(http.MethodDelete, "/api/rides/not-a-uuid", hostToken, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed delete: %d", rec.Code)
	}
	if rec := a.do(http.MethodDelete, "/api/rides/"+ride.ID, riderToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("non-host delete: %d", rec.Code)
	}
	if rec := a.do(http.MethodDelete, "/api/rides/"+ride.ID, hostToken, nil); rec.Code != http.StatusOK {
		t.Errorf("delete: %d %s", rec.Code, rec.Body)
	}
	if rec := a.do(http.MethodDelete, "/api/rides/"+ride.ID, hostToken, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: %d", rec.Code)
	}
}

func TestHistoryWithoutToken(t *testing.T) {
	a := newTestAPI(t, nil)

	for _, token := range []string{"", "garbage"} {
		rec := a.do(http.MethodGet, "/api/user/history", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("token %q: %d", token, rec.Code)
		}
		if got := rec.Body.String(); got != "{\"hosted\":[],\"joined\":[]}\n" {
			t.Errorf("token %q: body %q", token, got)
		}
	}
}

func TestRideLocations(t *testing.T) {
	records := make(map[string][]types.LocationRecord)
	a := newTestAPI(t, fakeLocations{records: records})
	hostToken := a.register("host")
	riderToken := a.register("rider")
	strangerToken := a.register("stranger")

	ride := a.host(hostToken, 2)
	if rec := a.do(http.MethodPost, "/api/rides/"+ride.ID+"/join", riderToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("join: %d", rec.Code)
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	records[ride.ID] = []types.LocationRecord{{ParticipantID: "p1", Latitude: 1, Longitude: 2, Timestamp: at}}
	path := "/api/rides/" + ride.ID + "/locations"

	if rec := a.do(http.MethodGet, path, "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: %d", rec.Code)
	}
	if rec := a.do(http.MethodGet, path, strangerToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("non-member: %d", rec.Code)
	}
	if rec := a.do(http.MethodGet, "/api/rides/00000000-0000-0000-0000-000000000000/locations", hostToken, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown ride: %d", rec.Code)
	}

	for _, token := range []string{hostToken, riderToken} {
		rec := a.do(http.MethodGet, path, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("member: %d %s", rec.Code, rec.Body)
		}
		var resp struct {
			RideID    string                 `json:"rideId"`
			Locations []types.LocationRecord `json:"locations"`
		}
		decode(t, rec, &resp)
		if resp.RideID != ride.ID || len(resp.Locations) != 1 || resp.Locations[0].ParticipantID != "p1" {
			t.Errorf("locations = %+v", resp)
		}
	}

	delete(records, ride.ID)
	rec := a.do(http.MethodGet, path, hostToken, nil)
	if body := rec.Body.String(); body != `{"locations":[],"rideId":"`+ride.ID+`"}`+"\n" {
		t.Errorf("empty room body = %q", body)
	}
}

func TestRideLocationsWithoutMirror(t *testing.T) {
	a := newTestAPI(t, nil)
	token := a.register("host")
	ride := a.host(token, 1)

	if rec := a.do(http.MethodGet, "/api/rides/"+ride.ID+"/locations", token, nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without mirror: %d", rec.Code)
	}
}

func TestRideLocationsMirrorFailure(t *testing.T) {
	a := newTestAPI(t, fakeLocations{err: errors.New("redis down")})
	token := a.register("host")
	ride := a.host(token, 1)

	if rec := a.do(http.MethodGet, "/api/rides/"+ride.ID+"/locations", token, nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("failing mirror: %d", rec.Code)
	}
}

func TestCompleteRide(t *testing.T) {
	a := newTestAPI(t, nil)
	hostToken := a.register("host")
	riderToken := a.register("rider")
	ride := a.host(hostToken, 2)
	path := "/api/rides/" + ride.ID + "/complete"

	if rec := a.do(http.MethodPost, path, riderToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("non-host complete: %d", rec.Code)
	}

	rec := a.do(http.MethodPost, path, hostToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body)
	}
	var completed store.Ride
	decode(t, rec, &completed)
	if completed.Status != store.RideCompleted {
		t.Errorf("status = %q", completed.Status)
	}

	if rec := a.do(http.MethodPost, "/api/rides/"+ride.ID+"/join", riderToken, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("join completed ride: %d", rec.Code)
	}
	var listed []store.Ride
	decode(t, a.do(http.MethodGet, "/api/rides", "", nil), &listed)
	if len(listed) != 0 {
		t.Errorf("completed ride still listed: %+v", listed)
	}
}

func TestHealth(t *testing.T) {
	rec := newTestAPI(t, nil).do(http.MethodGet, "/healthz", "", nil)
	if got, want := rec.Body.String(), fmt.Sprintln(`{"rooms":2,"sessions":5,"status":"ok"}`); got != want {
		t.Errorf("healthz = %q, want %q", got, want)
	}
}
