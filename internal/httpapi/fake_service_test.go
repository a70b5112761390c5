package httpapi

import (
	"context"

	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// fakeService is a scriptable Service for handler tests.
type fakeService struct {
	models    types.ModelsResponse
	modelErr  error
	refreshN  int
	refreshEr error

	pullLines []string
	pullErr   error

	removeErr error

	gpus    []types.GPUDevice
	gpusErr error

	submitID  string
	submitErr error
	submitted []types.RunRequest

	job       types.JobView
	jobErr    error
	jobs      []types.JobView
	logLines  []string
	logsErr   error
	cancelErr error
	killResp  types.KillAllResponse
	clearErr  error
	clearedN  int

	status types.StatusResponse
	ready  bool
}

func (f *fakeService) ListModels(ctx context.Context) (types.ModelsResponse, error) {
	return f.models, f.modelErr
}

func (f *fakeService) SearchModels(ctx context.Context, query string) (types.ModelsResponse, error) {
	return f.models, f.modelErr
}

func (f *fakeService) GetModel(ctx context.Context, id string) (types.ModelWithStatus, error) {
	if f.modelErr != nil {
		return types.ModelWithStatus{}, f.modelErr
	}
	for _, m := range f.models.Models {
		if m.ID == id {
			return m, nil
		}
	}
	return types.ModelWithStatus{}, errModelMissing{id}
}

func (f *fakeService) RefreshCatalog(ctx context.Context) (int, error) {
	return f.refreshN, f.refreshEr
}

func (f *fakeService) PullModelImage(ctx context.Context, id string, onLine func(string)) error {
	for _, l := range f.pullLines {
		onLine(l)
	}
	return f.pullErr
}

func (f *fakeService) RemoveModelImage(ctx context.Context, id string) error {
	return f.removeErr
}

func (f *fakeService) ListGPUs(ctx context.Context, refresh bool) ([]types.GPUDevice, error) {
	return f.gpus, f.gpusErr
}

func (f *fakeService) Submit(req types.RunRequest) (string, error) {
	f.submitted = append(f.submitted, req)
	return f.submitID, f.submitErr
}

func (f *fakeService) Job(id string) (types.JobView, error) {
	return f.job, f.jobErr
}

func (f *fakeService) Jobs() []types.JobView { return f.jobs }

func (f *fakeService) SubscribeLogs(ctx context.Context, id string) (<-chan string, error) {
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	ch := make(chan string, len(f.logLines))
	for _, l := range f.logLines {
		ch <- l
	}
	close(ch)
	return ch, nil
}

func (f *fakeService) Cancel(id string) error { return f.cancelErr }

func (f *fakeService) KillAll() types.KillAllResponse { return f.killResp }

func (f *fakeService) ClearJob(id string) error { return f.clearErr }

func (f *fakeService) ClearJobs() int { return f.clearedN }

func (f *fakeService) Status(ctx context.Context) types.StatusResponse { return f.status }

func (f *fakeService) Ready(ctx context.Context) bool { return f.ready }

// errModelMissing stands in for a catalog miss without importing the real
// error type into every test.
type errModelMissing struct{ id string }

func (e errModelMissing) Error() string   { return "model not found: " + e.id }
func (e errModelMissing) StatusCode() int { return 404 }
