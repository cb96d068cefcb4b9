package httpclient

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timeout = time.Second * 2

type echo struct {
	Value string `json:"value"`
}

func TestMakeGetAndPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(echo{Value: "get"})
		case http.MethodPost:
			var in echo
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(echo{Value: in.Value + "-posted"})
		}
	}))
	defer srv.Close()

	var got echo
	require.NoError(t, MakeGet(timeout, srv.URL, &got))
	assert.Equal(t, "get", got.Value)

	require.NoError(t, MakePost(timeout, srv.URL, echo{Value: "x"}, &got))
	assert.Equal(t, "x-posted", got.Value)
}

func TestMakeGetStatusMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := MakeGet(timeout, srv.URL, nil)
	assert.ErrorIs(t, err, ErrStatusCodeMismatch)
}

func TestMakeMultipartPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, h, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(echo{Value: h.Filename + ":" + string(data)})
	}))
	defer srv.Close()

	var got echo
	require.NoError(t, MakeMultipartPost(timeout, srv.URL, "file", "poster.png", []byte("png"), &got))
	assert.Equal(t, "poster.png:png", got.Value)

	assert.ErrorIs(t, MakeMultipartPost(timeout, srv.URL, "file", "empty", nil, &got), ErrEmptyFile)
}
