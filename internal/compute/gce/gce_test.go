package gce

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	"launchpad/internal/launch"
	"launchpad/internal/ports"
)

const key = "0123456789abcdef0123456789abcdef"

func newTestProvisioner(t *testing.T, h http.HandlerFunc) *Provisioner {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	svc, err := compute.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/compute/v1/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return New(svc, Options{Project: "proj", Zone: "us-central1-a", MaxRunDuration: 6 * time.Hour})
}

func input() ports.RunInstancesInput {
	return ports.RunInstancesInput{
		ItemID:              "job-1",
		UserData:            base64.StdEncoding.EncodeToString([]byte("#!/bin/sh\n/tmp/script.sh 'job-1'\n")),
		ImageID:             "projects/debian-cloud/global/images/family/debian-12",
		InstanceType:        "e2-small",
		InstanceProfile:     "worker@proj.iam.gserviceaccount.com",
		SecurityGroups:      []string{"worker"},
		MinCount:            1,
		MaxCount:            1,
		ClientToken:         key,
		TerminateOnShutdown: true,
	}
}

func TestRunInstancesInsertsOneInstance(t *testing.T) {
	var (
		got       compute.Instance
		requestID string
	)
	p := newTestProvisioner(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/projects/proj/zones/us-central1-a/instances") {
			http.NotFound(w, r)
			return
		}
		requestID = r.URL.Query().Get("requestId")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"kind":"compute#operation","status":"RUNNING","targetId":"4242"}`)
	})

	out, err := p.RunInstances(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, []string{"4242"}, out.InstanceIDs)

	assert.Equal(t, launch.RequestUUID(key), requestID)
	assert.Equal(t, InstanceName(key), got.Name)
	assert.Equal(t, "zones/us-central1-a/machineTypes/e2-small", got.MachineType)
	require.NotNil(t, got.Scheduling)
	assert.Equal(t, "DELETE", got.Scheduling.InstanceTerminationAction)
	assert.Equal(t, int64(6*3600), got.Scheduling.MaxRunDuration.Seconds)
	assert.Equal(t, []string{"worker"}, got.Tags.Items)
	assert.Equal(t, "worker@proj.iam.gserviceaccount.com", got.ServiceAccounts[0].Email)

	meta := map[string]string{}
	for _, item := range got.Metadata.Items {
		meta[item.Key] = *item.Value
	}
	assert.Contains(t, meta[startupScriptKey], "/tmp/script.sh 'job-1'")
	assert.Equal(t, "job-1", meta[itemIDKey])
}

func TestRunInstancesAdoptsExisting(t *testing.T) {
	p := newTestProvisioner(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"error":{"code":409,"message":"already exists"}}`)
		case http.MethodGet:
			if !strings.HasSuffix(r.URL.Path, "/instances/"+InstanceName(key)) {
				http.NotFound(w, r)
				return
			}
			_, _ = io.WriteString(w, `{"id":"777","name":"`+InstanceName(key)+`"}`)
		}
	})

	out, err := p.RunInstances(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, []string{"777"}, out.InstanceIDs)
}

func TestRunInstancesFailure(t *testing.T) {
	p := newTestProvisioner(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"quota exceeded"}}`)
	})

	_, err := p.RunInstances(context.Background(), input())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestRunInstancesNoTarget(t *testing.T) {
	p := newTestProvisioner(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"kind":"compute#operation","status":"PENDING"}`)
	})

	out, err := p.RunInstances(context.Background(), input())
	require.NoError(t, err)
	assert.Empty(t, out.InstanceIDs)
}

func TestRunInstancesRejectsBadUserData(t *testing.T) {
	p := newTestProvisioner(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	in := input()
	in.UserData = "not base64!"
	_, err := p.RunInstances(context.Background(), in)
	assert.Error(t, err)
}

func TestSelfDeleteCommandLooksUpItsInstance(t *testing.T) {
	assert.True(t, strings.HasPrefix(SelfDeleteCommand, "gcloud compute instances delete "))
	assert.Contains(t, SelfDeleteCommand, metadataURL+"/name")
	assert.Contains(t, SelfDeleteCommand, metadataURL+"/zone")
	assert.Contains(t, SelfDeleteCommand, "Metadata-Flavor: Google")
	assert.True(t, strings.HasSuffix(SelfDeleteCommand, "--quiet"))

	script, err := launch.Bootstrap{ScriptURL: "gs://scripts/script.sh", Shutdown: true, SelfDelete: SelfDeleteCommand}.Render("job-1")
	require.NoError(t, err)
	assert.Contains(t, script, SelfDeleteCommand+" || shutdown -h now")
}
