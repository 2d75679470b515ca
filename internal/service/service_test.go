package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/driver/sqlite"

	"github.com/freedkr/shebao/internal/database"
	"github.com/freedkr/shebao/internal/model"
	"github.com/freedkr/shebao/internal/parser"
	"github.com/freedkr/shebao/internal/storage"
)

// MockStorage 模拟对象存储
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) EnsureBucket(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStorage) UploadFile(ctx context.Context, objectName string, reader io.Reader, objectSize int64, contentType string) error {
	return m.Called(ctx, objectName, reader, objectSize, contentType).Error(0)
}

func (m *MockStorage) DownloadFile(ctx context.Context, objectName string) (io.ReadCloser, error) {
	args := m.Called(ctx, objectName)
	if rc, ok := args.Get(0).(io.ReadCloser); ok {
		return rc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStorage) DeleteFile(ctx context.Context, objectName string) error {
	return m.Called(ctx, objectName).Error(0)
}

func (m *MockStorage) GetFileInfo(ctx context.Context, objectName string) (*storage.FileInfo, error) {
	args := m.Called(ctx, objectName)
	if info, ok := args.Get(0).(*storage.FileInfo); ok {
		return info, args.Error(1)
	}
	return nil, args.Error(1)
}

// failingStore 替换数据时返回错误
type failingStore struct {
	database.Store
}

func (f *failingStore) ReplaceSalaries(ctx context.Context, records []model.SalaryRecord) error {
	return errors.New("磁盘已满")
}

func (f *failingStore) ReplaceResults(ctx context.Context, runID string, results []model.ContributionResult) error {
	return errors.New("磁盘已满")
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := database.NewGormDB(sqlite.Open(dsn), 50)
	require.NoError(t, err)
	require.NoError(t, store.CreateTables(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func workbook(t *testing.T, rows ...[]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, r := range rows {
		r := r
		require.NoError(t, f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+1), &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func salaryBook(t *testing.T, rows ...[]interface{}) []byte {
	return workbook(t, append([][]interface{}{{"员工工号", "员工姓名", "月份", "工资金额"}}, rows...)...)
}

func cityBook(t *testing.T, rows ...[]interface{}) []byte {
	return workbook(t, append([][]interface{}{{"city_namte", "year", "base_min", "base_max", "rate"}}, rows...)...)
}

func newImporter(store database.Store, archive storage.StorageInterface) *ImportService {
	return NewImportService(store, archive, parser.NewExcelParser(nil), 1<<20)
}

func importSalaries(t *testing.T, svc *ImportService, data []byte) *ImportReport {
	t.Helper()
	report, err := svc.ImportSalaries(context.Background(), "工资.xlsx", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)
	return report
}

func importCities(t *testing.T, svc *ImportService, data []byte) *ImportReport {
	t.Helper()
	report, err := svc.ImportPolicies(context.Background(), "cities.xlsx", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)
	return report
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestImportSalaries_WithoutArchive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := newImporter(store, nil)

	report := importSalaries(t, svc, salaryBook(t,
		[]interface{}{"E001", "张三", "2024-01", 5000},
		[]interface{}{"E001", "张三", "2024-02", 7000},
	))
	assert.Equal(t, model.KindSalaries, report.Kind)
	assert.Equal(t, 2, report.Rows)
	assert.Empty(t, report.StoragePath)
	assert.NotEmpty(t, report.UploadID)

	salaries, err := store.ListSalaries(ctx)
	require.NoError(t, err)
	assert.Len(t, salaries, 2)

	rec, err := store.GetUploadRecord(ctx, report.UploadID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.RowCount)
	assert.Len(t, rec.MD5Hash, 32)
}

func TestImportSalaries_ArchivesOriginal(t *testing.T) {
	store := newTestStore(t)
	archive := new(MockStorage)
	svc := newImporter(store, archive)

	data := salaryBook(t, []interface{}{"E001", "张三", "2024-01", 5000})
	archive.On("UploadFile", mock.Anything, mock.MatchedBy(func(name string) bool {
		return strings.HasPrefix(name, "uploads/salaries/") && strings.HasSuffix(name, "/工资.xlsx")
	}), mock.Anything, int64(len(data)), storage.XLSXContentType).Return(nil).Once()

	report := importSalaries(t, svc, data)
	assert.Equal(t, storage.ObjectName(model.KindSalaries, report.UploadID, "工资.xlsx"), report.StoragePath)
	archive.AssertExpectations(t)
}

func TestImportSalaries_ReplaceFailureRemovesArchive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.ReplaceSalaries(ctx, []model.SalaryRecord{{EmployeeName: "旧数据", Month: "2024-01", SalaryAmount: d("1")}}))

	archive := new(MockStorage)
	archive.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	archive.On("DeleteFile", mock.Anything, mock.Anything).Return(nil).Once()

	svc := newImporter(&failingStore{Store: store}, archive)
	data := salaryBook(t, []interface{}{"E001", "张三", "2024-01", 5000})
	_, err := svc.ImportSalaries(ctx, "工资.xlsx", int64(len(data)), bytes.NewReader(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "磁盘已满")
	archive.AssertExpectations(t)

	salaries, err := store.ListSalaries(ctx)
	require.NoError(t, err)
	require.Len(t, salaries, 1)
	assert.Equal(t, "旧数据", salaries[0].EmployeeName)
}

func TestImportSalaries_Rejections(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	archive := new(MockStorage)
	svc := NewImportService(store, archive, parser.NewExcelParser(nil), 64*1024)

	valid := salaryBook(t, []interface{}{"E001", "张三", "2024-01", 5000})

	_, err := svc.ImportSalaries(ctx, "工资.xls", int64(len(valid)), bytes.NewReader(valid))
	assert.True(t, model.IsErrorType(err, model.ErrCodeInvalidFormat), "扩展名: %v", err)

	_, err = svc.ImportSalaries(ctx, "工资.csv", 10, strings.NewReader("a,b"))
	assert.True(t, model.IsErrorType(err, model.ErrCodeInvalidFormat))

	_, err = svc.ImportSalaries(ctx, "工资.xlsx", 1<<30, bytes.NewReader(valid))
	assert.True(t, model.IsErrorType(err, model.ErrCodeInvalidInput), "大小: %v", err)

	_, err = svc.ImportSalaries(ctx, "工资.xlsx", 0, nil)
	assert.True(t, model.IsErrorType(err, model.ErrCodeFileReadError))

	missing := workbook(t, []interface{}{"姓名", "月份"}, []interface{}{"张三", "2024-01"})
	_, err = svc.ImportSalaries(ctx, "工资.xlsx", int64(len(missing)), bytes.NewReader(missing))
	var mfErr *model.MissingFieldsError
	require.ErrorAs(t, err, &mfErr)
	assert.Equal(t, []string{"employee_id", "salary_amount"}, mfErr.Missing)

	empty := salaryBook(t)
	_, err = svc.ImportSalaries(ctx, "工资.xlsx", int64(len(empty)), bytes.NewReader(empty))
	assert.True(t, model.IsErrorType(err, model.ErrCodeEmptyInput))

	// 被拒绝的上传不会归档也不会写库
	archive.AssertNotCalled(t, "UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	salaries, err := store.ListSalaries(ctx)
	require.NoError(t, err)
	assert.Empty(t, salaries)
}

func TestOpenUpload(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	archive := new(MockStorage)
	svc := newImporter(store, archive)

	data := cityBook(t, []interface{}{"佛山", "2024", 1900, 31851, 0.15})
	archive.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	report := importCities(t, svc, data)

	archive.On("GetFileInfo", mock.Anything, report.StoragePath).Return(&storage.FileInfo{Name: report.StoragePath, Size: int64(len(data))}, nil)
	archive.On("DownloadFile", mock.Anything, report.StoragePath).Return(io.NopCloser(bytes.NewReader(data)), nil)

	rec, body, err := svc.OpenUpload(ctx, report.UploadID)
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, "cities.xlsx", rec.OriginalName)
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, _, err = svc.OpenUpload(ctx, "missing")
	assert.True(t, model.IsErrorType(err, model.ErrCodeNotFound))

	// 未启用归档时无法下载
	plain := newImporter(store, nil)
	_, _, err = plain.OpenUpload(ctx, report.UploadID)
	assert.True(t, model.IsErrorType(err, model.ErrCodeNotFound))
}

func TestCalculate_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	importer := newImporter(store, nil)

	importSalaries(t, importer, salaryBook(t,
		[]interface{}{"E001", "A", "2024-01", 5000},
		[]interface{}{"E001", "A", "2024-02", 7000},
		[]interface{}{"E002", "B", "2024-01", 1000},
		[]interface{}{"E003", "C", "2024-01", 40000},
	))
	importCities(t, importer, cityBook(t,
		[]interface{}{"佛山", "2024", 1900, 31851, 0.15},
		[]interface{}{"佛山", "2023", 1800, 30000, 0.14},
		[]interface{}{"广州", "2024", 2300, 36072, 0.14},
	))

	svc := NewContributionService(store, "")
	assert.Equal(t, "佛山", svc.City())

	report, err := svc.Calculate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "2024", report.Year)
	require.Len(t, report.Results, 3)

	view, err := svc.Results(ctx)
	require.NoError(t, err)
	require.Len(t, view.Results, 3)

	want := map[string][3]string{
		"A": {"6000", "6000", "900"},
		"B": {"1000", "1900", "285"},
		"C": {"40000", "31851", "4777.65"},
	}
	for i, name := range []string{"A", "B", "C"} {
		r := view.Results[i]
		assert.Equal(t, name, r.EmployeeName)
		assert.True(t, d(want[name][0]).Equal(r.AvgSalary), "%s avg %s", name, r.AvgSalary)
		assert.True(t, d(want[name][1]).Equal(r.ContributionBase), "%s base %s", name, r.ContributionBase)
		assert.True(t, d(want[name][2]).Equal(r.CompanyFee), "%s fee %s", name, r.CompanyFee)
	}
	assert.Equal(t, 3, view.Summary.EmployeeCount)
	assert.True(t, d("5962.65").Equal(view.Summary.CompanyFeeTotal))

	run, err := svc.Run(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, database.RunStatusCompleted, run.Status)
	assert.Equal(t, "2024", run.Year)
	assert.Equal(t, 3, run.EmployeeCount)
	assert.Contains(t, string(run.PolicySnapshot), "31851")
}

func TestCalculate_FailuresKeepPriorResults(t *testing.T) {
	ctx := context.Background()

	prior := []model.ContributionResult{{EmployeeName: "旧", AvgSalary: d("1"), ContributionBase: d("1900"), CompanyFee: d("285")}}

	tests := []struct {
		name     string
		salaries []model.SalaryRecord
		policies []model.PolicyRecord
		code     model.ErrorCode
	}{
		{
			name: "没有工资数据",
			code: model.ErrCodeEmptyInput,
		},
		{
			name:     "没有社保标准",
			salaries: []model.SalaryRecord{{EmployeeName: "A", Month: "2024-01", SalaryAmount: d("5000")}},
			policies: []model.PolicyRecord{{CityName: "广州", Year: "2024", BaseMin: d("1"), BaseMax: d("2"), Rate: d("0.1")}},
			code:     model.ErrCodeNotFound,
		},
		{
			name: "跨年度",
			salaries: []model.SalaryRecord{
				{EmployeeName: "A", Month: "2024-12", SalaryAmount: d("5000")},
				{EmployeeName: "A", Month: "2025-01", SalaryAmount: d("5000")},
			},
			policies: []model.PolicyRecord{{CityName: "佛山", Year: "2024", BaseMin: d("1"), BaseMax: d("2"), Rate: d("0.1")}},
			code:     model.ErrCodeMultiYear,
		},
		{
			name:     "社保标准不合法",
			salaries: []model.SalaryRecord{{EmployeeName: "A", Month: "2024-01", SalaryAmount: d("5000")}},
			policies: []model.PolicyRecord{{CityName: "佛山", Year: "2024", BaseMin: d("6000"), BaseMax: d("3000"), Rate: d("0.15")}},
			code:     model.ErrCodeInvalidPolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			require.NoError(t, store.ReplaceResults(ctx, "prior", prior))
			require.NoError(t, store.ReplaceSalaries(ctx, tt.salaries))
			require.NoError(t, store.ReplacePolicies(ctx, tt.policies))

			svc := NewContributionService(store, "佛山")
			report, err := svc.Calculate(ctx, "job-1")
			require.Error(t, err)
			assert.Nil(t, report)
			assert.Equal(t, tt.code, model.CodeOf(err))

			results, err := store.ListResults(ctx)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "旧", results[0].EmployeeName)

			runs, err := svc.Runs(ctx, 0, 0)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, database.RunStatusFailed, runs[0].Status)
			assert.Equal(t, "job-1", runs[0].JobID)
			assert.NotEmpty(t, runs[0].ErrorMsg)
			assert.NotNil(t, runs[0].FinishedAt)
		})
	}
}

func TestCalculate_ReplaceFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.ReplaceSalaries(ctx, []model.SalaryRecord{{EmployeeName: "A", Month: "2024-01", SalaryAmount: d("5000")}}))
	require.NoError(t, store.ReplacePolicies(ctx, []model.PolicyRecord{{CityName: "佛山", Year: "2024", BaseMin: d("1900"), BaseMax: d("31851"), Rate: d("0.15")}}))

	svc := NewContributionService(&failingStore{Store: store}, "佛山")
	_, err := svc.Calculate(ctx, "")
	require.Error(t, err)
	assert.True(t, model.IsErrorType(err, model.ErrCodeInternal))
	var sysErr *model.SystemError
	require.True(t, errors.As(err, &sysErr))
	assert.Contains(t, sysErr.StackTrace, "service.(*ContributionService).compute")

	runs, err := svc.Runs(ctx, 500, -1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, database.RunStatusFailed, runs[0].Status)
}

func TestResults_Empty(t *testing.T) {
	svc := NewContributionService(newTestStore(t), "佛山")
	view, err := svc.Results(context.Background())
	require.NoError(t, err)
	assert.Empty(t, view.Results)
	assert.NotNil(t, view.Results)
	assert.Equal(t, 0, view.Summary.EmployeeCount)
}

func TestSnapshotPolicy_IndependentOfDecimalJSONMode(t *testing.T) {
	policy := model.PolicyRecord{CityName: "佛山", Year: "2024", BaseMin: d("1900.5"), BaseMax: d("31851"), Rate: d("0.145")}
	want := `{"city_name":"佛山","year":"2024","base_min":"1900.5","base_max":"31851","rate":"0.145"}`

	saved := decimal.MarshalJSONWithoutQuotes
	t.Cleanup(func() { decimal.MarshalJSONWithoutQuotes = saved })

	for _, unquoted := range []bool{false, true} {
		decimal.MarshalJSONWithoutQuotes = unquoted
		got, err := snapshotPolicy(policy)
		require.NoError(t, err)
		assert.JSONEq(t, want, string(got), "unquoted=%v", unquoted)
	}
}
