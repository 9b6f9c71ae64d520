package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"antigravity-biosync/internal/config"
	"antigravity-biosync/internal/database"
	"antigravity-biosync/internal/identity"
	"antigravity-biosync/internal/models"
	mqttclient "antigravity-biosync/internal/mqtt"
	"antigravity-biosync/internal/notify"
	"antigravity-biosync/internal/reconcile"
	"antigravity-biosync/internal/repository"
	"antigravity-biosync/internal/store"
	"antigravity-biosync/internal/zk"
)

// 同步状态机（State() 暴露给诊断日志，不参与控制流）
const (
	StateIdle        = "IDLE"
	StateConnecting  = "CONNECTING"
	StateFetching    = "FETCHING"
	StateReconciling = "RECONCILING"
	StateRecording   = "RECORDING"
)

// lastRunKey 最近一轮同步结果的 Redis 键（JSON，供管理后台查询）
const lastRunKey = "biosync:last_run"

// ErrSyncInProgress 已有一轮同步在执行，本次触发被拒绝
var ErrSyncInProgress = errors.New("sync cycle already in progress")

// DeviceSession 一次设备会话需要的操作子集
type DeviceSession interface {
	ReadAttendanceLogs() ([]models.PunchEvent, error)
	ReadUsers() ([]models.DeviceUser, error)
	Close() error
}

// DeviceConnector 建立设备会话
type DeviceConnector interface {
	Connect() (DeviceSession, error)
}

// IdentitySource 员工身份映射来源（带缓存的 Loader）
type IdentitySource interface {
	Load(ctx context.Context) ([]models.StaffIdentity, error)
}

// AttendanceStore 考勤记录读写接口
type AttendanceStore interface {
	reconcile.AttendanceSource
	Create(ctx context.Context, rec *models.AttendanceRecord) error
	Update(ctx context.Context, rec *models.AttendanceRecord) error
}

// SyncRunStore 同步审计写入接口
type SyncRunStore interface {
	Insert(ctx context.Context, run *models.SyncRun) error
}

// StaffDirectory 全量员工名单（用于设备用户对账）
type StaffDirectory interface {
	ListAll(ctx context.Context) ([]models.StaffIdentity, error)
}

// AlertSink 连续失败告警出口
type AlertSink interface {
	Enabled() bool
	NotifyDeviceUnreachable(ctx context.Context, consecutiveFailures int, lastErr error) error
}

// TriggerSubscriber 按需触发订阅（MQTT）
type TriggerSubscriber interface {
	Subscribe(topic string, qos byte, handler mqttclient.MessageHandler) error
}

// SyncService 指纹机同步服务：定时（及按需）拉取打卡日志并合并进考勤表
type SyncService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *goredis.Client
	mqttClient  *mqttclient.Client

	connector  DeviceConnector
	identities IdentitySource
	attendance AttendanceStore
	runs       SyncRunStore
	staff      StaffDirectory
	engine     *reconcile.Engine
	notifier   AlertSink
	kv         store.KV
	trigger    TriggerSubscriber

	busy  atomic.Bool
	state atomic.Value

	// 只在持有 busy 标志时读写
	consecutiveFailures int
}

// zkConnector 把 zk.Transport 适配成 DeviceConnector
type zkConnector struct {
	transport *zk.Transport
}

func (c zkConnector) Connect() (DeviceSession, error) {
	session, err := c.transport.Connect()
	if err != nil {
		return nil, err
	}
	return session, nil
}

// NewSyncService 创建同步服务（初始化数据库、Redis、可选 MQTT 与设备传输层）
func NewSyncService(cfg *config.Config, logger *zap.Logger) (*SyncService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := store.NewRedisClient(&cfg.Redis)
	if err := store.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	staffRepo := repository.NewStaffRepository(db, logger)
	attendanceRepo := repository.NewAttendanceRepository(db, logger)
	runsRepo := repository.NewSyncRunRepository(db, logger)

	kv := store.NewRedisKV(redisClient)
	loader := identity.NewLoader(staffRepo, kv, cfg.Sync.IdentityCacheTTL, logger)
	engine := reconcile.NewEngine(attendanceRepo, cfg.Sync.OrgUTCOffsetMinutes, logger)
	notifier := notify.NewAlertNotifier(cfg.Sync.AlertWebhookURL, cfg.Device.Host, logger)

	svc := &SyncService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		connector:   zkConnector{transport: zk.NewTransport(cfg.Device, logger)},
		identities:  loader,
		attendance:  attendanceRepo,
		runs:        runsRepo,
		staff:       staffRepo,
		engine:      engine,
		notifier:    notifier,
		kv:          kv,
	}

	if cfg.MQTT.Enabled {
		client, err := mqttclient.NewClient(&cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		svc.mqttClient = client
		svc.trigger = client
	}

	return svc, nil
}

// State 当前状态机状态
func (s *SyncService) State() string {
	if v, ok := s.state.Load().(string); ok {
		return v
	}
	return StateIdle
}

func (s *SyncService) setState(state string) {
	s.state.Store(state)
}

// RunCycle 执行一轮同步。并发触发时只允许一轮在跑，其余返回 ErrSyncInProgress。
// 设备或数据库故障不作为 error 返回，而是记进 SyncRun（FAILED）并落审计表。
func (s *SyncService) RunCycle(ctx context.Context) (*models.SyncRun, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer func() {
		s.setState(StateIdle)
		s.busy.Store(false)
	}()

	run := &models.SyncRun{
		ID:       uuid.New().String(),
		SyncTime: time.Now().UTC(),
	}

	s.setState(StateConnecting)
	session, err := s.connector.Connect()
	if err != nil {
		return s.fail(ctx, run, "connect", err), nil
	}
	defer session.Close()

	s.setState(StateFetching)
	punches, err := session.ReadAttendanceLogs()
	if err != nil {
		return s.fail(ctx, run, "fetch logs", err), nil
	}
	run.LogsFetched = len(punches)

	identities, err := s.identities.Load(ctx)
	if err != nil {
		return s.fail(ctx, run, "load identities", err), nil
	}
	mapper, err := identity.NewMapper(identities)
	if err != nil {
		return s.fail(ctx, run, "build identity map", err), nil
	}

	resolved := make([]reconcile.Punch, 0, len(punches))
	unmapped := make(map[string]int)
	for _, event := range punches {
		staff, ok := mapper.Resolve(event.DeviceUserID)
		if !ok {
			unmapped[event.DeviceUserID]++
			continue
		}
		resolved = append(resolved, reconcile.Punch{Staff: staff, Event: event})
	}
	for deviceID, count := range unmapped {
		s.logger.Warn("Skipping punches for unmapped device user",
			zap.String("device_user_id", deviceID),
			zap.Int("punch_count", count))
	}

	s.setState(StateReconciling)
	result, err := s.engine.Merge(ctx, resolved)
	if err != nil {
		return s.fail(ctx, run, "reconcile", err), nil
	}

	s.setState(StateRecording)
	saved := 0
	for i := range result.Updates {
		update := &result.Updates[i]
		if update.Created {
			err = s.attendance.Create(ctx, &update.Record)
		} else {
			err = s.attendance.Update(ctx, &update.Record)
		}
		if err != nil {
			run.LogsSaved = saved
			return s.fail(ctx, run, "record attendance", err), nil
		}
		saved++
	}
	run.LogsSaved = saved

	s.consecutiveFailures = 0
	if len(unmapped) > 0 || len(result.Conflicts) > 0 {
		run.Status = models.SyncPartial
	} else {
		run.Status = models.SyncSuccess
	}

	s.logger.Info("Sync cycle completed",
		zap.String("status", run.Status),
		zap.Int("logs_fetched", run.LogsFetched),
		zap.Int("records_saved", run.LogsSaved),
		zap.Int("deduped", result.Deduped),
		zap.Int("unmapped_device_users", len(unmapped)),
		zap.Int("manual_conflicts", len(result.Conflicts)))

	s.finishRun(ctx, run)
	return run, nil
}

// fail 以 FAILED 状态收尾本轮，并在连续失败达到阈值时告警
func (s *SyncService) fail(ctx context.Context, run *models.SyncRun, stage string, err error) *models.SyncRun {
	run.Status = models.SyncFailed
	run.ErrorMessage = fmt.Sprintf("%s: %v", stage, err)
	s.consecutiveFailures++

	s.logger.Error("Sync cycle failed",
		zap.String("stage", stage),
		zap.Int("consecutive_failures", s.consecutiveFailures),
		zap.Error(err))

	threshold := s.config.Sync.AlertThreshold
	if s.notifier != nil && s.notifier.Enabled() && threshold > 0 && s.consecutiveFailures == threshold {
		if nerr := s.notifier.NotifyDeviceUnreachable(ctx, s.consecutiveFailures, err); nerr != nil {
			s.logger.Error("Failed to deliver device alert", zap.Error(nerr))
		}
	}

	s.finishRun(ctx, run)
	return run
}

// finishRun 落审计表并刷新 Redis 中的最近一轮结果
func (s *SyncService) finishRun(ctx context.Context, run *models.SyncRun) {
	if s.runs != nil {
		if err := s.runs.Insert(ctx, run); err != nil {
			s.logger.Error("Failed to persist sync run", zap.Error(err))
		}
	}
	if s.kv != nil {
		if data, err := json.Marshal(run); err == nil {
			if err := s.kv.Set(ctx, lastRunKey, string(data), 0); err != nil {
				s.logger.Warn("Failed to cache last sync run", zap.Error(err))
			}
		}
	}
}

// Start 启动服务：订阅 MQTT 触发主题（如启用），随后阻塞在定时轮询循环里
func (s *SyncService) Start(ctx context.Context) error {
	s.logger.Info("Starting biometric sync service",
		zap.String("device_host", s.config.Device.Host),
		zap.Duration("interval", s.config.Sync.Interval),
		zap.Bool("mqtt_trigger", s.trigger != nil))

	if s.trigger != nil {
		err := s.trigger.Subscribe(s.config.MQTT.Topic, 1, func(topic string, payload []byte) error {
			s.logger.Info("Sync triggered via MQTT", zap.String("topic", topic))
			if _, err := s.RunCycle(context.Background()); err != nil {
				if errors.Is(err, ErrSyncInProgress) {
					s.logger.Info("Sync already in progress, trigger ignored")
					return nil
				}
				return err
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to trigger topic: %w", err)
		}
	}

	ticker := time.NewTicker(s.config.Sync.Interval)
	defer ticker.Stop()

	// 启动即同步一轮，不等第一个间隔
	if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
		s.logger.Error("Initial sync cycle failed to start", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunCycle(ctx); err != nil {
				if errors.Is(err, ErrSyncInProgress) {
					s.logger.Warn("Previous sync cycle still running, skipping tick")
				} else {
					s.logger.Error("Sync cycle failed to start", zap.Error(err))
				}
			}
		}
	}
}

// Stop 停止服务并释放连接
func (s *SyncService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping biometric sync service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.redisClient != nil {
		if err := store.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing redis connection", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Biometric sync service stopped")
	return nil
}
