package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/freedkr/shebao/internal/calculator"
	"github.com/freedkr/shebao/internal/database"
	"github.com/freedkr/shebao/internal/logger"
	"github.com/freedkr/shebao/internal/model"
)

// 计算记录分页上限
const maxRunsLimit = 100

// CalculationReport 一次计算的结果
type CalculationReport struct {
	RunID   string                     `json:"run_id"`
	City    string                     `json:"city"`
	Year    string                     `json:"year"`
	Results []model.ContributionResult `json:"results"`
	Summary model.ResultSummary        `json:"summary"`
}

// ResultsView 当前结果表及合计
type ResultsView struct {
	Results []model.ContributionResult `json:"results"`
	Summary model.ResultSummary        `json:"summary"`
}

// ContributionService 缴费计算服务
type ContributionService struct {
	store database.Store
	city  string
}

// NewContributionService 创建计算服务，city为空时使用默认城市
func NewContributionService(store database.Store, city string) *ContributionService {
	if city == "" {
		city = model.DefaultCity
	}
	return &ContributionService{store: store, city: city}
}

// City 参与计算的城市
func (s *ContributionService) City() string {
	return s.city
}

// Calculate 基于当前工资数据和社保标准重新计算全部结果
// jobID 为异步任务ID，同步调用时为空。
// 任何错误都不会改动已有结果，每次调用都会留下一条计算记录。
func (s *ContributionService) Calculate(ctx context.Context, jobID string) (*CalculationReport, error) {
	run := &database.CalculationRun{
		ID:     uuid.New().String(),
		JobID:  jobID,
		Status: database.RunStatusRunning,
		City:   s.city,
	}
	log := logger.WithComponent("calculation").WithFields(logrus.Fields{"run_id": run.ID, "city": s.city})

	if err := s.store.CreateCalculationRun(ctx, run); err != nil {
		return nil, model.NewSystemError("database", "create_run", "创建计算记录失败", err).WithStackTrace()
	}

	report, err := s.compute(ctx, run)

	now := time.Now()
	run.FinishedAt = &now
	if err != nil {
		run.Status = database.RunStatusFailed
		run.ErrorMsg = err.Error()
		log.WithError(err).Warn("计算失败")
	} else {
		run.Status = database.RunStatusCompleted
		run.EmployeeCount = report.Summary.EmployeeCount
		run.CompanyFeeTotal = report.Summary.CompanyFeeTotal
		log.WithField("employees", run.EmployeeCount).Info("计算完成")
	}
	// 请求被取消时仍然记录最终状态
	if uErr := s.store.UpdateCalculationRun(context.WithoutCancel(ctx), run); uErr != nil {
		log.WithError(uErr).Error("更新计算记录失败")
	}

	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *ContributionService) compute(ctx context.Context, run *database.CalculationRun) (*CalculationReport, error) {
	salaries, err := s.store.ListSalaries(ctx)
	if err != nil {
		return nil, model.NewSystemError("database", "list_salaries", "读取工资数据失败", err).WithStackTrace()
	}
	if len(salaries) == 0 {
		return nil, model.NewEmptyInputError("没有找到工资数据，请先上传员工工资数据")
	}

	year, err := calculator.ResolveYear(salaries)
	if err != nil {
		return nil, err
	}
	run.Year = year

	policy, err := s.store.FindPolicy(ctx, s.city, year)
	if err != nil {
		return nil, err
	}
	if snapshot, err := snapshotPolicy(*policy); err != nil {
		logger.WithComponent("calculation").WithField("run_id", run.ID).WithError(err).Warn("序列化社保标准快照失败")
	} else {
		run.PolicySnapshot = datatypes.JSON(snapshot)
	}

	results, err := calculator.ComputeContributions(salaries, *policy)
	if err != nil {
		return nil, err
	}

	if err := s.store.ReplaceResults(ctx, run.ID, results); err != nil {
		return nil, model.NewSystemError("database", "replace_results", "保存计算结果失败", err).WithStackTrace()
	}

	return &CalculationReport{
		RunID:   run.ID,
		City:    s.city,
		Year:    year,
		Results: results,
		Summary: calculator.Summarize(results),
	}, nil
}

// policySnapshot 计算记录中保存的社保标准，金额固定以字符串保存
type policySnapshot struct {
	CityName string `json:"city_name"`
	Year     string `json:"year"`
	BaseMin  string `json:"base_min"`
	BaseMax  string `json:"base_max"`
	Rate     string `json:"rate"`
}

func snapshotPolicy(p model.PolicyRecord) ([]byte, error) {
	return json.Marshal(policySnapshot{
		CityName: p.CityName,
		Year:     p.Year,
		BaseMin:  p.BaseMin.String(),
		BaseMax:  p.BaseMax.String(),
		Rate:     p.Rate.String(),
	})
}

// Results 返回按员工姓名排序的结果及合计
func (s *ContributionService) Results(ctx context.Context) (*ResultsView, error) {
	results, err := s.store.ListResults(ctx)
	if err != nil {
		return nil, model.NewSystemError("database", "list_results", "读取计算结果失败", err).WithStackTrace()
	}
	return &ResultsView{
		Results: results,
		Summary: calculator.Summarize(results),
	}, nil
}

// Runs 分页列出计算记录
func (s *ContributionService) Runs(ctx context.Context, limit, offset int) ([]*database.CalculationRun, error) {
	switch {
	case limit <= 0:
		limit = 20
	case limit > maxRunsLimit:
		limit = maxRunsLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListCalculationRuns(ctx, limit, offset)
}

// Run 获取单条计算记录
func (s *ContributionService) Run(ctx context.Context, id string) (*database.CalculationRun, error) {
	return s.store.GetCalculationRun(ctx, id)
}
