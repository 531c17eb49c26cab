package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const DATABASE_TYPE = "FREIGHT_DATABASE_TYPE"
const DATABASE_URL = "FREIGHT_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "FREIGHT_DATABASE_SQLLITE_FILE_NAME"
const ENGINE_SERVER_WEB_PORT = "FREIGHT_ENGINE_SERVER_WEB_PORT"
const ENGINE_CHECK_DB_INTERVAL = "FREIGHT_ENGINE_CHECK_DB_INTERVAL"
const ENGINE_STUCK_WORKFLOWS_INTERVAL = "FREIGHT_ENGINE_STUCK_WORKFLOWS_INTERVAL"
const ENGINE_STUCK_WORKFLOWS_REPAIR_AFTER_MINUTES = "FREIGHT_ENGINE_STUCK_WORKFLOWS_REPAIR_AFTER_MINUTES"
const ENGINE_BATCH_SIZE = "FREIGHT_ENGINE_BATCH_SIZE"         //number of executions to pull from the database at a time
const ENGINE_EXECUTOR_GROUP = "FREIGHT_ENGINE_EXECUTOR_GROUP" //the group id of the executor that it will process jobs from
const ENGINE_EXECUTOR_SIZE = "FREIGHT_ENGINE_EXECUTOR_SIZE"   //number of workers to run ie the parallel nature of the jobs
const ENGINE_EXECUTOR_NAME = "FREIGHT_ENGINE_EXECUTOR_NAME"
const STEP_TIMEOUT = "FREIGHT_STEP_TIMEOUT"
const MAX_RETRY_COUNT = "FREIGHT_MAX_RETRY_COUNT"
const RETRY_INTERVAL_MIN = "FREIGHT_RETRY_INTERVAL_MIN"
const RETRY_INTERVAL_MAX = "FREIGHT_RETRY_INTERVAL_MAX"
const API_KEY_HASHES = "FREIGHT_API_KEY_HASHES" // comma separated bcrypt hashes
const LEASE_REDIS_ADDR = "FREIGHT_LEASE_REDIS_ADDR"
const LOG_LEVEL = "FREIGHT_LOG_LEVEL"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

// GetSystemSettingDuration parses a Go duration ("10s"); an unparsable value gives zero.
func GetSystemSettingDuration(settingKey string) time.Duration {
	d, _ := time.ParseDuration(GetSystemSettingString(settingKey))
	return d
}

func GetSystemSettingList(settingKey string) []string {
	var out []string
	for _, v := range strings.Split(GetSystemSettingString(settingKey), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	switch settingKey {
	case DATABASE_TYPE:
		return DATABASE_TYPE_SQLLITE
	case ENGINE_CHECK_DB_INTERVAL:
		return "3s"
	case ENGINE_STUCK_WORKFLOWS_INTERVAL:
		return "60s"
	case ENGINE_BATCH_SIZE:
		return "5"
	case ENGINE_STUCK_WORKFLOWS_REPAIR_AFTER_MINUTES:
		return "5"
	case ENGINE_EXECUTOR_SIZE:
		return "5"
	case ENGINE_EXECUTOR_GROUP:
		return "default"
	case ENGINE_SERVER_WEB_PORT:
		return "8080"
	case DATABASE_SQLLITE_FILE_NAME:
		return "./freightflow.db"
	case STEP_TIMEOUT:
		return "10s"
	case MAX_RETRY_COUNT:
		return "5"
	case RETRY_INTERVAL_MIN:
		return "2s"
	case RETRY_INTERVAL_MAX:
		return "5m"
	case LOG_LEVEL:
		return "info"
	}
	return ""
}
