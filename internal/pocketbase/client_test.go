package pocketbase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestList_SendsQueryAndDecodesPage(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/collections/cold_calls/records" {
			t.Errorf("path = %q, want /api/collections/cold_calls/records", r.URL.Path)
		}
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Write([]byte(`{"page":2,"perPage":20,"totalItems":41,"totalPages":3,"items":[{"id":"a"},{"id":"b"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	var items []struct {
		ID string `json:"id"`
	}
	res, err := c.List(context.Background(), "cold_calls", ListOptions{
		Page:    2,
		PerPage: 20,
		Sort:    "-created",
		Filter:  `interest_level >= 5`,
		Expand:  "company,claimed_by",
	}, &items)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	want := map[string]string{
		"page":    "2",
		"perPage": "20",
		"sort":    "-created",
		"filter":  "interest_level >= 5",
		"expand":  "company,claimed_by",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query[%s] = %q, want %q", k, gotQuery[k], v)
		}
	}
	if _, ok := gotQuery["fields"]; ok {
		t.Error("fields should be omitted when empty")
	}
	if res.TotalPages != 3 || res.TotalItems != 41 || res.Page != 2 {
		t.Errorf("result = %+v, want page 2 of 3 with 41 items", res)
	}
	if len(items) != 2 || items[1].ID != "b" {
		t.Errorf("items = %+v, want [a b]", items)
	}
}

func TestDo_AttachesSessionToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Auth().Save("tok-123", "u1", json.RawMessage(`{"id":"u1"}`))
	var out map[string]any
	if err := c.One(context.Background(), "notes", "x", ListOptions{}, &out); err != nil {
		t.Fatalf("One: %v", err)
	}
	if auth != "tok-123" {
		t.Errorf("Authorization = %q, want tok-123", auth)
	}
}

func TestResponseError_ConcatenatesFieldDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":400,"message":"Failed to create record.","data":{"title":{"code":"validation_required","message":"Missing required value."},"email":{"code":"validation_is_email","message":"Must be a valid email address."}}}`))
	}))
	defer srv.Close()

	err := New(srv.URL).Create(context.Background(), "notes", map[string]string{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var re *ResponseError
	if !errors.As(err, &re) {
		t.Fatalf("error type = %T, want *ResponseError", err)
	}
	want := "Failed to create record. (email: Must be a valid email address.; title: Missing required value.)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !IsValidation(err) {
		t.Error("IsValidation = false, want true")
	}
	if IsTransient(err) {
		t.Error("IsTransient = true, want false")
	}
}

func TestResponseError_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	err := New(srv.URL).Delete(context.Background(), "notes", "x")
	if StatusOf(err) != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", StatusOf(err))
	}
	if !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("Error() = %q, want body text", err.Error())
	}
	if !IsTransient(err) {
		t.Error("IsTransient = false, want true for 5xx")
	}
}

func TestFirstListItem_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("perPage"); got != "1" {
			t.Errorf("perPage = %q, want 1", got)
		}
		w.Write([]byte(`{"page":1,"perPage":1,"totalItems":0,"totalPages":0,"items":[]}`))
	}))
	defer srv.Close()

	var out map[string]any
	err := New(srv.URL).FirstListItem(context.Background(), "recordings", ListOptions{Filter: `phone_number = "1"`}, &out)
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestCount_UsesTotalItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("fields") != "id" || q.Get("perPage") != "1" {
			t.Errorf("query = %v, want fields=id perPage=1", q)
		}
		w.Write([]byte(`{"page":1,"perPage":1,"totalItems":17,"totalPages":17,"items":[{"id":"a"}]}`))
	}))
	defer srv.Close()

	n, err := New(srv.URL).Count(context.Background(), "cold_calls", `claimed_by = "u1"`)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 17 {
		t.Errorf("Count = %d, want 17", n)
	}
}

func TestFullList_WalksPages(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		page := r.URL.Query().Get("page")
		items := make([]string, 0, fullListBatch)
		n := fullListBatch
		if page == "2" {
			n = 3
		}
		for i := 0; i < n; i++ {
			items = append(items, `{"id":"x"}`)
		}
		w.Write([]byte(`{"page":` + page + `,"perPage":500,"totalItems":503,"totalPages":2,"items":[` + strings.Join(items, ",") + `]}`))
	}))
	defer srv.Close()

	var out []map[string]any
	if err := New(srv.URL).FullList(context.Background(), "phone_numbers", ListOptions{}, &out); err != nil {
		t.Fatalf("FullList: %v", err)
	}
	if calls != 2 {
		t.Errorf("requests = %d, want 2", calls)
	}
	if len(out) != fullListBatch+3 {
		t.Errorf("len = %d, want %d", len(out), fullListBatch+3)
	}
}

func TestCreateMultipart_SendsFieldsAndFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("phone_number"); got != "5550100" {
			t.Errorf("phone_number = %q, want 5550100", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if hdr.Filename != "a.mp3" || string(body) != "audio" {
			t.Errorf("file = %s %q, want a.mp3 \"audio\"", hdr.Filename, body)
		}
		w.Write([]byte(`{"id":"rec1","file":"a_x1.mp3"}`))
	}))
	defer srv.Close()

	var out struct {
		ID   string `json:"id"`
		File string `json:"file"`
	}
	err := New(srv.URL).CreateMultipart(context.Background(), "recordings", Form{
		Fields: map[string]string{"phone_number": "5550100"},
		Files:  []File{{Field: "file", Name: "a.mp3", Content: strings.NewReader("audio")}},
	}, &out)
	if err != nil {
		t.Fatalf("CreateMultipart: %v", err)
	}
	if out.ID != "rec1" {
		t.Errorf("ID = %q, want rec1", out.ID)
	}
}

func TestCancelledRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := New(srv.URL).List(ctx, "companies", ListOptions{}, nil)
	if !IsCancelled(err) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if IsTransient(err) {
		t.Error("cancellation must not be transient")
	}
}

func TestObserverSeesCollectionAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":404,"message":"missing"}`))
	}))
	defer srv.Close()

	var gotColl string
	var gotStatus int
	c := New(srv.URL, WithObserver(func(method, collection string, status int, _ time.Duration) {
		gotColl, gotStatus = collection, status
	}))
	c.One(context.Background(), "companies", "nope", ListOptions{}, &struct{}{})
	if gotColl != "companies" || gotStatus != 404 {
		t.Errorf("observed %s/%d, want companies/404", gotColl, gotStatus)
	}
}

func TestAuthWithPassword_StoresSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/collections/users/auth-with-password" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["identity"] != "ana@example.com" || body["password"] != "pw" {
			t.Errorf("body = %v", body)
		}
		w.Write([]byte(`{"token":"jwt-1","record":{"id":"u9","name":"Ana","role":"admin"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.AuthWithPassword(context.Background(), "users", "ana@example.com", "pw"); err != nil {
		t.Fatalf("AuthWithPassword: %v", err)
	}
	if c.Auth().Token() != "jwt-1" || c.Auth().UserID() != "u9" {
		t.Errorf("session = %q/%q, want jwt-1/u9", c.Auth().Token(), c.Auth().UserID())
	}
	var rec struct {
		Role string `json:"role"`
	}
	if err := c.Auth().Record(&rec); err != nil || rec.Role != "admin" {
		t.Errorf("Record = %+v, %v", rec, err)
	}
}

func TestFileURL(t *testing.T) {
	c := New("https://pb.example.com/")
	got := c.FileURL("recordings", "abc", "call 1.mp3")
	want := "https://pb.example.com/api/files/recordings/abc/call%201.mp3"
	if got != want {
		t.Errorf("FileURL = %q, want %q", got, want)
	}
	if c.FileURL("recordings", "abc", "") != "" {
		t.Error("FileURL with empty filename should be empty")
	}
}
