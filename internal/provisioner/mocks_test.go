package provisioner

import (
	"context"

	"github.com/EternisAI/fleet-enroll/internal/controlplane"
	"github.com/EternisAI/fleet-enroll/internal/enrollment"
	"github.com/EternisAI/fleet-enroll/internal/installer"
	"github.com/EternisAI/fleet-enroll/internal/policy"
	"github.com/stretchr/testify/mock"
)

type mockAuth struct {
	mock.Mock
}

func (m *mockAuth) Renew(ctx context.Context) (controlplane.Auth, error) {
	args := m.Called(ctx)
	return args.Get(0).(controlplane.Auth), args.Error(1)
}

type mockPolicies struct {
	mock.Mock
}

func (m *mockPolicies) FindPolicy(ctx context.Context, auth controlplane.Auth, name string) (policy.Policy, bool, error) {
	args := m.Called(ctx, auth, name)
	return args.Get(0).(policy.Policy), args.Bool(1), args.Error(2)
}

type mockCredentials struct {
	mock.Mock
}

func (m *mockCredentials) GetOrCreate(ctx context.Context, auth controlplane.Auth, policyID string) (enrollment.Credential, error) {
	args := m.Called(ctx, auth, policyID)
	return args.Get(0).(enrollment.Credential), args.Error(1)
}

type mockInstaller struct {
	mock.Mock
}

func (m *mockInstaller) Install(ctx context.Context, controlPlaneURL, secret string) (installer.Outcome, error) {
	args := m.Called(ctx, controlPlaneURL, secret)
	return args.Get(0).(installer.Outcome), args.Error(1)
}

type recordingObserver struct {
	results []*Result
}

func (r *recordingObserver) RunFinished(_ context.Context, result *Result) {
	r.results = append(r.results, result)
}
