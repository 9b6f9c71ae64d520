package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"antigravity-biosync/internal/config"
	"antigravity-biosync/internal/models"
	"antigravity-biosync/internal/reconcile"
)

// ============================================
// 测试替身
// ============================================

type fakeSession struct {
	punches  []models.PunchEvent
	users    []models.DeviceUser
	readErr  error
	closed   bool
	closedMu sync.Mutex
}

func (f *fakeSession) ReadAttendanceLogs() ([]models.PunchEvent, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.punches, nil
}

func (f *fakeSession) ReadUsers() ([]models.DeviceUser, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.users, nil
}

func (f *fakeSession) Close() error {
	f.closedMu.Lock()
	defer f.closedMu.Unlock()
	f.closed = true
	return nil
}

type fakeConnector struct {
	session    *fakeSession
	connectErr error
}

func (f *fakeConnector) Connect() (DeviceSession, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.session, nil
}

// blockingConnector 连接后阻塞，直到测试放行（用于并发互斥测试）
type blockingConnector struct {
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
}

func (b *blockingConnector) Connect() (DeviceSession, error) {
	b.startOnce.Do(func() { close(b.started) })
	<-b.release
	return nil, errors.New("device unreachable")
}

type fakeIdentitySource struct {
	identities []models.StaffIdentity
	err        error
}

func (f *fakeIdentitySource) Load(ctx context.Context) ([]models.StaffIdentity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.identities, nil
}

type fakeAttendanceStore struct {
	mu           sync.Mutex
	records      map[string]*models.AttendanceRecord
	createErr    error
	failCreateAt int // 第 N 次 Create 返回错误（0 = 不注入）
	createCalls  int
	created      int
	updated      int
}

func newFakeAttendanceStore() *fakeAttendanceStore {
	return &fakeAttendanceStore{records: make(map[string]*models.AttendanceRecord)}
}

func (f *fakeAttendanceStore) storeKey(userID string, date time.Time) string {
	return userID + "|" + date.UTC().Format(time.RFC3339)
}

func (f *fakeAttendanceStore) seed(rec models.AttendanceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := rec
	f.records[f.storeKey(rec.UserID, rec.Date)] = &copied
}

func (f *fakeAttendanceStore) GetByUserAndDate(ctx context.Context, userID string, date time.Time) (*models.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[f.storeKey(userID, date)]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeAttendanceStore) Create(ctx context.Context, rec *models.AttendanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	if f.failCreateAt > 0 && f.createCalls == f.failCreateAt {
		return errors.New("connection reset")
	}
	copied := *rec
	f.records[f.storeKey(rec.UserID, rec.Date)] = &copied
	f.created++
	return nil
}

func (f *fakeAttendanceStore) Update(ctx context.Context, rec *models.AttendanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *rec
	f.records[f.storeKey(rec.UserID, rec.Date)] = &copied
	f.updated++
	return nil
}

type fakeRunStore struct {
	mu   sync.Mutex
	runs []models.SyncRun
}

func (f *fakeRunStore) Insert(ctx context.Context, run *models.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, *run)
	return nil
}

type fakeStaffDirectory struct {
	identities []models.StaffIdentity
}

func (f *fakeStaffDirectory) ListAll(ctx context.Context) ([]models.StaffIdentity, error) {
	return f.identities, nil
}

type fakeAlertSink struct {
	mu    sync.Mutex
	calls []int
}

func (f *fakeAlertSink) Enabled() bool { return true }

func (f *fakeAlertSink) NotifyDeviceUnreachable(ctx context.Context, consecutiveFailures int, lastErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, consecutiveFailures)
	return nil
}

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", errors.New("cache miss")
}

func (f *fakeKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Device.Host = "192.168.1.201"
	cfg.Sync.Interval = time.Minute
	cfg.Sync.OrgUTCOffsetMinutes = 330
	cfg.Sync.AlertThreshold = 3
	return cfg
}

func newTestService(connector DeviceConnector, identities []models.StaffIdentity, att *fakeAttendanceStore) (*SyncService, *fakeRunStore, *fakeKV) {
	cfg := testConfig()
	logger := zap.NewNop()
	runs := &fakeRunStore{}
	kv := newFakeKV()

	svc := &SyncService{
		config:     cfg,
		logger:     logger,
		connector:  connector,
		identities: &fakeIdentitySource{identities: identities},
		attendance: att,
		runs:       runs,
		staff:      &fakeStaffDirectory{identities: identities},
		engine:     reconcile.NewEngine(att, cfg.Sync.OrgUTCOffsetMinutes, logger),
		kv:         kv,
	}
	return svc, runs, kv
}

func testStaff() []models.StaffIdentity {
	return []models.StaffIdentity{
		{UserID: "user-1", StaffNumber: "QIX0013", BiometricDeviceID: "13", FullName: "Arjun Mehta"},
		{UserID: "user-2", StaffNumber: "QIX0021", BiometricDeviceID: "21", FullName: "Priya Nair"},
	}
}

// 设备墙上时间（装载在 UTC 里）
func wallClock(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

// ============================================
// RunCycle
// ============================================

func TestRunCycle_SuccessCreatesRecord(t *testing.T) {
	session := &fakeSession{punches: []models.PunchEvent{
		{DeviceUserID: "13", Timestamp: wallClock(2026, 2, 19, 9, 0), RawRecordID: 1},
		{DeviceUserID: "13", Timestamp: wallClock(2026, 2, 19, 18, 10), RawRecordID: 2},
	}}
	att := newFakeAttendanceStore()
	svc, runs, kv := newTestService(&fakeConnector{session: session}, testStaff(), att)

	run, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.SyncSuccess, run.Status)
	assert.Equal(t, 2, run.LogsFetched)
	assert.Equal(t, 1, run.LogsSaved)
	assert.Empty(t, run.ErrorMessage)
	assert.Equal(t, 1, att.created)
	assert.True(t, session.closed)
	assert.Equal(t, StateIdle, svc.State())

	require.Len(t, runs.runs, 1)
	assert.Equal(t, models.SyncSuccess, runs.runs[0].Status)

	cached, cacheErr := kv.Get(context.Background(), lastRunKey)
	require.NoError(t, cacheErr)
	var cachedRun models.SyncRun
	require.NoError(t, json.Unmarshal([]byte(cached), &cachedRun))
	assert.Equal(t, run.ID, cachedRun.ID)
}

func TestRunCycle_UnmappedDeviceUserPartial(t *testing.T) {
	session := &fakeSession{punches: []models.PunchEvent{
		{DeviceUserID: "13", Timestamp: wallClock(2026, 2, 19, 9, 0), RawRecordID: 1},
		{DeviceUserID: "999", Timestamp: wallClock(2026, 2, 19, 9, 5), RawRecordID: 2},
	}}
	att := newFakeAttendanceStore()
	svc, runs, _ := newTestService(&fakeConnector{session: session}, testStaff(), att)

	run, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.SyncPartial, run.Status)
	assert.Equal(t, 2, run.LogsFetched)
	assert.Equal(t, 1, run.LogsSaved)
	require.Len(t, runs.runs, 1)
	assert.Equal(t, models.SyncPartial, runs.runs[0].Status)
}

func TestRunCycle_ManualRecordConflictPartial(t *testing.T) {
	session := &fakeSession{punches: []models.PunchEvent{
		{DeviceUserID: "13", Timestamp: wallClock(2026, 2, 19, 9, 0), RawRecordID: 1},
	}}
	att := newFakeAttendanceStore()
	// IST 2026-02-19 的 day key
	att.seed(models.AttendanceRecord{
		ID:     "rec-manual",
		UserID: "user-1",
		Date:   time.Date(2026, 2, 18, 18, 30, 0, 0, time.UTC),
		Status: models.StatusOnLeave,
		Method: models.MethodManualAdmin,
	})
	svc, _, _ := newTestService(&fakeConnector{session: session}, testStaff(), att)

	run, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.SyncPartial, run.Status)
	assert.Equal(t, 0, run.LogsSaved)
	assert.Equal(t, 0, att.created)
	assert.Equal(t, 0, att.updated)
}

func TestRunCycle_DeviceUnreachableRecordsFailedRun(t *testing.T) {
	att := newFakeAttendanceStore()
	svc, runs, _ := newTestService(&fakeConnector{connectErr: errors.New("dial tcp: connection refused")}, testStaff(), att)

	run, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "connect")
	assert.Contains(t, run.ErrorMessage, "connection refused")
	assert.Equal(t, 0, run.LogsFetched)
	require.Len(t, runs.runs, 1)
	assert.Equal(t, models.SyncFailed, runs.runs[0].Status)
}

func TestRunCycle_FetchErrorRecordsFailedRun(t *testing.T) {
	session := &fakeSession{readErr: errors.New("corrupt frame")}
	att := newFakeAttendanceStore()
	svc, runs, _ := newTestService(&fakeConnector{session: session}, testStaff(), att)

	run, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "fetch logs")
	assert.True(t, session.closed)
	require.Len(t, runs.runs, 1)
}

func TestRunCycle_StoreErrorRecordsFailedRun(t *testing.T) {
	session := &fakeSession{punches: []models.PunchEvent{
		{DeviceUserID: "13", Timestamp: wallClock(2026, 2, 19, 9, 0), RawRecordID: 1},
	}}
	att := newFakeAttendanceStore()
	att.createErr = errors.New("connection reset")
	svc, _, _ := newTestService(&fakeConnector{session: session}, testStaff(), att)

	run, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "record attendance")
	assert.Equal(t, 0, run.LogsSaved)
}

func TestRunCycle_MidBatchStoreErrorKeepsEarlierWrites(t *testing.T) {
	// 两个员工各一条记录，第二条写入失败：
	// 已写入的不回滚，计数只算写成功的，整轮记 FAILED
	session := &fakeSession{punches: []models.PunchEvent{
		{DeviceUserID: "13", Timestamp: wallClock(2026, 2, 19, 9, 0), RawRecordID: 1},
		{DeviceUserID: "13", Timestamp: wallClock(2026, 2, 19, 18, 10), RawRecordID: 2},
		{DeviceUserID: "21", Timestamp: wallClock(2026, 2, 19, 9, 5), RawRecordID: 3},
	}}
	att := newFakeAttendanceStore()
	att.failCreateAt = 2
	svc, runs, _ := newTestService(&fakeConnector{session: session}, testStaff(), att)

	run, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "record attendance")
	assert.Equal(t, 3, run.LogsFetched)
	assert.Equal(t, 1, run.LogsSaved)
	assert.Equal(t, 1, att.created)

	// user-1 的记录已落库且保持完整
	dateKey := time.Date(2026, 2, 18, 18, 30, 0, 0, time.UTC)
	rec, getErr := att.GetByUserAndDate(context.Background(), "user-1", dateKey)
	require.NoError(t, getErr)
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusPresent, rec.Status)

	// user-2 的记录没写进去
	rec2, getErr := att.GetByUserAndDate(context.Background(), "user-2", dateKey)
	require.NoError(t, getErr)
	assert.Nil(t, rec2)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, models.SyncFailed, runs.runs[0].Status)
	assert.Equal(t, 1, runs.runs[0].LogsSaved)
}

func TestRunCycle_AlertFiresAtThreshold(t *testing.T) {
	att := newFakeAttendanceStore()
	svc, _, _ := newTestService(&fakeConnector{connectErr: errors.New("device off")}, testStaff(), att)
	sink := &fakeAlertSink{}
	svc.notifier = sink

	for i := 0; i < 4; i++ {
		_, err := svc.RunCycle(context.Background())
		require.NoError(t, err)
	}

	// 阈值为 3：仅在第 3 次连续失败时告警一次
	require.Len(t, sink.calls, 1)
	assert.Equal(t, 3, sink.calls[0])
}

func TestRunCycle_SuccessResetsFailureCounter(t *testing.T) {
	att := newFakeAttendanceStore()
	connector := &fakeConnector{connectErr: errors.New("device off")}
	svc, _, _ := newTestService(connector, testStaff(), att)
	sink := &fakeAlertSink{}
	svc.notifier = sink

	for i := 0; i < 2; i++ {
		_, err := svc.RunCycle(context.Background())
		require.NoError(t, err)
	}

	// 恢复一轮
	connector.connectErr = nil
	connector.session = &fakeSession{}
	_, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	// 再失败两轮：计数已清零，不应达到阈值
	connector.connectErr = errors.New("device off")
	for i := 0; i < 2; i++ {
		_, err := svc.RunCycle(context.Background())
		require.NoError(t, err)
	}

	assert.Empty(t, sink.calls)
}

func TestRunCycle_RejectsConcurrentRun(t *testing.T) {
	blocking := &blockingConnector{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	att := newFakeAttendanceStore()
	svc, _, _ := newTestService(blocking, testStaff(), att)

	done := make(chan *models.SyncRun, 1)
	go func() {
		run, _ := svc.RunCycle(context.Background())
		done <- run
	}()

	<-blocking.started
	_, err := svc.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(blocking.release)
	run := <-done
	assert.Equal(t, models.SyncFailed, run.Status)

	// 第一轮结束后可以再次触发
	_, err = svc.RunCycle(context.Background())
	require.NoError(t, err)
}

func TestRunCycle_IdempotentAcrossCycles(t *testing.T) {
	punches := []models.PunchEvent{
		{DeviceUserID: "13", Timestamp: wallClock(2026, 2, 19, 9, 0), RawRecordID: 1},
		{DeviceUserID: "13", Timestamp: wallClock(2026, 2, 19, 18, 10), RawRecordID: 2},
	}
	att := newFakeAttendanceStore()
	svc, _, _ := newTestService(&fakeConnector{session: &fakeSession{punches: punches}}, testStaff(), att)

	run1, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.SyncSuccess, run1.Status)

	// 设备日志未清空，下一轮拉到同样的数据
	run2, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.SyncSuccess, run2.Status)

	assert.Equal(t, 1, att.created)
	dateKey := time.Date(2026, 2, 18, 18, 30, 0, 0, time.UTC)
	rec, err := att.GetByUserAndDate(context.Background(), "user-1", dateKey)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.CheckIn)
	require.NotNil(t, rec.CheckOut)
	assert.Equal(t, models.StatusPresent, rec.Status)
}

// ============================================
// AuditUserSync
// ============================================

func TestAuditUserSync_Report(t *testing.T) {
	session := &fakeSession{users: []models.DeviceUser{
		{UID: 1, UserID: "13", Name: "Arjun"},
		{UID: 2, UserID: "99", Name: "Unknown"},
	}}
	att := newFakeAttendanceStore()
	svc, _, _ := newTestService(&fakeConnector{session: session}, testStaff(), att)

	report, err := svc.AuditUserSync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, report.DeviceUsers)
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, []string{"99"}, report.UnboundDeviceIDs)
	assert.Equal(t, []string{"QIX0021"}, report.MissingOnDevice)
	assert.True(t, session.closed)
}

func TestAuditUserSync_AmbiguousBindingReported(t *testing.T) {
	// "13" 和 "0013" 归一后相同：两个员工抢同一个设备编号
	staff := []models.StaffIdentity{
		{UserID: "user-1", StaffNumber: "QIX0013", BiometricDeviceID: "13"},
		{UserID: "user-3", StaffNumber: "QIX0113", BiometricDeviceID: "0013"},
	}
	session := &fakeSession{users: []models.DeviceUser{
		{UID: 1, UserID: "13", Name: "Arjun"},
	}}
	att := newFakeAttendanceStore()
	svc, _, _ := newTestService(&fakeConnector{session: session}, staff, att)

	report, err := svc.AuditUserSync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"QIX0013", "QIX0113"}, report.AmbiguousBindings)
	// 歧义编号不算匹配，也不算设备上的孤儿
	assert.Equal(t, 0, report.Matched)
	assert.Empty(t, report.UnboundDeviceIDs)
	assert.Empty(t, report.MissingOnDevice)
}

func TestAuditUserSync_DeviceError(t *testing.T) {
	att := newFakeAttendanceStore()
	svc, _, _ := newTestService(&fakeConnector{connectErr: errors.New("device off")}, testStaff(), att)

	report, err := svc.AuditUserSync(context.Background())

	assert.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, StateIdle, svc.State())
}
