package supervisor

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// BuildArgs renders spec.md §6's stable subprocess command-line contract
// for one RunSpec. Flags absent from spec (e.g. stepped-mode fields) are
// passed as environment variables instead, per the contract's own
// "Stepped mode reads LOAD_MODE=stepped and STEP_* environment
// variables" clause.
func BuildArgs(spec RunSpec) []string {
	headersJSON, _ := json.Marshal(spec.Headers)
	cookiesJSON, _ := json.Marshal(spec.Cookies)

	args := []string{
		"--task-id", spec.TaskID,
		"--host", spec.Host,
		"--users", strconv.Itoa(spec.Users),
		"--spawn-rate", formatFloat(spec.SpawnRate),
		"--stop-timeout", strconv.Itoa(int(spec.StopTimeout.Seconds())),
		"--duration", strconv.Itoa(int(spec.Duration.Seconds())),
		"--headless",
		"--only-summary",
		"--api_path", spec.APIPath,
		"--headers", string(headersJSON),
		"--cookies", string(cookiesJSON),
		"--method", spec.Method,
	}

	if spec.LoadMode != "stepped" {
		args = append(args, "--run-time", strconv.Itoa(int(spec.RunTime.Seconds()))+"s")
	}

	if spec.ModelName != "" {
		args = append(args, "--model_name", spec.ModelName)
	}
	if spec.APIType != "" {
		args = append(args, "--api_type", spec.APIType)
	}
	if spec.StreamMode {
		args = append(args, "--stream_mode")
	}
	args = append(args, "--chat_type", strconv.Itoa(spec.ChatType))
	if spec.RequestPayload != "" {
		args = append(args, "--request_payload", spec.RequestPayload)
	}
	if spec.FieldMapping != "" {
		args = append(args, "--field_mapping", spec.FieldMapping)
	}
	if spec.TestData != "" {
		args = append(args, "--test_data", spec.TestData)
	}
	if spec.DatasetFile != "" {
		args = append(args, "--dataset_file", spec.DatasetFile)
	}
	if spec.RequestBody != "" {
		args = append(args, "--request_body", spec.RequestBody)
	}
	if spec.CertFile != "" {
		args = append(args, "--cert_file", spec.CertFile)
	}
	if spec.KeyFile != "" {
		args = append(args, "--key_file", spec.KeyFile)
	}
	if spec.WarmupMode {
		args = append(args, "--warmup_mode")
	}

	return args
}

// BuildEnv renders the environment variables spec.md §6 names, on top of
// the parent process's own environment (the caller appends os.Environ()).
func BuildEnv(spec RunSpec) []string {
	env := []string{
		"TASK_ID=" + spec.TaskID,
		"LOCUST_CONCURRENT_USERS=" + strconv.Itoa(spec.Users),
	}
	if spec.LoadMode == "stepped" {
		env = append(env,
			"LOAD_MODE=stepped",
			"STEP_START_USERS="+strconv.Itoa(spec.StepStartUsers),
			"STEP_INCREMENT="+strconv.Itoa(spec.StepIncrement),
			"STEP_DURATION="+strconv.Itoa(spec.StepDurationSec),
			"STEP_MAX_USERS="+strconv.Itoa(spec.StepMaxUsers),
			"STEP_SUSTAIN_DURATION="+strconv.Itoa(spec.StepSustainSec),
		)
	} else {
		env = append(env, "LOAD_MODE=fixed")
	}
	return env
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

// ProcessesFlag returns the extra --processes N argument spec.md §4.9
// step 3 adds once concurrency exceeds the CPU-derived threshold, or nil
// when fan-out is not warranted.
func ProcessesFlag(users, threshold, cpuCount int) []string {
	if users <= threshold || cpuCount <= 1 {
		return nil
	}
	return []string{"--processes", strconv.Itoa(cpuCount)}
}
