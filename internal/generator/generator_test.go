package generator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Meow711/story-generator-ui/internal/config"
	apperrors "github.com/Meow711/story-generator-ui/internal/errors"
	"github.com/Meow711/story-generator-ui/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript 在脚本根目录下写入阶段脚本，脚本由 sh 执行
func writeScript(t *testing.T, root string, stage Stage, body string) {
	t.Helper()
	dir := filepath.Join(root, string(stage))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, OutputDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "generate.py"), []byte(body), 0644))
}

func newTestRunner(t *testing.T, mode string) (*Runner, string) {
	t.Helper()
	root := t.TempDir()
	return NewRunner(Config{ScriptRoot: root, PythonBin: "sh", InputMode: mode}), root
}

func TestPremiseReadsOutputFile(t *testing.T) {
	runner, root := newTestRunner(t, config.InputModeFile)
	writeScript(t, root, StagePremise, `printf '{"title":"T","premise":"P"}' > output/premise.json`)

	result, err := runner.Premise(context.Background(), "robot uprising")
	require.NoError(t, err)
	assert.Equal(t, "T", result.Title)
	assert.Equal(t, "P", result.Premise)
}

func TestPlanAndStory(t *testing.T) {
	runner, root := newTestRunner(t, config.InputModeFile)
	writeScript(t, root, StagePlan, `cat > output/plan.json <<'EOF'
{"setting":"S","entities":[{"name":"A","description":"d"}],"outline":{"id":"1","text":"t","scene":"s","entities":["A"],"children":[]}}
EOF`)
	writeScript(t, root, StageStory, `printf 'Once upon a time...\nThe end.' > output/story.txt`)

	plan, err := runner.Plan(context.Background(), "T", "P")
	require.NoError(t, err)
	assert.Equal(t, "S", plan.Setting)
	require.Len(t, plan.Entities, 1)
	assert.Equal(t, "A", plan.Entities[0].Name)

	story, err := runner.Story(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time...\nThe end.", story)
}

func TestRequestModePassesInputOnStdin(t *testing.T) {
	runner, root := newTestRunner(t, config.InputModeRequest)
	// 把stdin原样作为计划输出的 premise 字段回写
	writeScript(t, root, StagePlan, `input=$(cat)
printf '{"premise":%s,"setting":"S","entities":[],"outline":{"id":"1"}}' "$input" > output/plan.json`)

	plan, err := runner.Plan(context.Background(), "My Title", "My Premise")
	require.NoError(t, err)
	require.NotNil(t, plan.Premise)
	assert.Equal(t, "My Title", plan.Premise.Title)
	assert.Equal(t, "My Premise", plan.Premise.Premise)
}

func TestStderrOutputIsExecutionError(t *testing.T) {
	runner, root := newTestRunner(t, config.InputModeFile)
	writeScript(t, root, StagePremise, `printf '{"title":"T","premise":"P"}' > output/premise.json
echo "Traceback: boom" >&2`)

	_, err := runner.Premise(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeGenerationExecution, apperrors.TypeOf(err))
}

func TestNonZeroExitIsExecutionError(t *testing.T) {
	runner, root := newTestRunner(t, config.InputModeFile)
	writeScript(t, root, StageStory, `exit 3`)

	_, err := runner.Story(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeGenerationExecution, apperrors.TypeOf(err))
}

func TestMissingOrMalformedOutput(t *testing.T) {
	runner, root := newTestRunner(t, config.InputModeFile)
	writeScript(t, root, StageStory, `true`)

	_, err := runner.Story(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeOutputParse, apperrors.TypeOf(err))

	writeScript(t, root, StagePlan, `printf '{not json' > output/plan.json`)
	_, err = runner.Plan(context.Background(), "T", "P")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeOutputParse, apperrors.TypeOf(err))

	writeScript(t, root, StagePremise, `printf '{"title":"T"}' > output/premise.json`)
	_, err = runner.Premise(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeOutputParse, apperrors.TypeOf(err))
}

func TestTimeoutStopsScript(t *testing.T) {
	root := t.TempDir()
	runner := NewRunner(Config{ScriptRoot: root, PythonBin: "sh", Timeout: 50 * time.Millisecond})
	writeScript(t, root, StageStory, `sleep 5`)

	_, err := runner.Story(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeTimeout, apperrors.TypeOf(err))
}

func TestGenerateRecordsMetrics(t *testing.T) {
	runner, root := newTestRunner(t, config.InputModeFile)
	metrics := utils.NewAppMetricsWith(utils.NewMetricsCollector())
	runner.WithMetrics(metrics)
	writeScript(t, root, StageStory, `exit 1`)

	_, _ = runner.Story(context.Background())
	assert.Equal(t, int64(1), metrics.Collector().GetCounterValue("generator_story_calls"))
	assert.Equal(t, int64(1), metrics.Collector().GetCounterValue("generator_story_failed"))
}

func TestUnknownStage(t *testing.T) {
	runner, _ := newTestRunner(t, config.InputModeFile)
	_, err := runner.Generate(context.Background(), Stage("cover"), nil)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "Failed to generate plan", StagePlan.FailureMessage())
	assert.Equal(t, "story.txt", StageStory.OutputFile())
}
