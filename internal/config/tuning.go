package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/params endpoint so the same JSON can be
// used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Information matrix params
	UseConstInformationMatrix *bool    `json:"use_const_information_matrix,omitempty"`
	ConstStddevTranslation    *float64 `json:"const_stddev_translation,omitempty"`
	ConstStddevRotation       *float64 `json:"const_stddev_rotation,omitempty"`
	AdaptiveGain              *float64 `json:"adaptive_gain,omitempty"`
	MinStddevTranslation      *float64 `json:"min_stddev_translation,omitempty"`
	MaxStddevTranslation      *float64 `json:"max_stddev_translation,omitempty"`
	MinStddevRotation         *float64 `json:"min_stddev_rotation,omitempty"`
	MaxStddevRotation         *float64 `json:"max_stddev_rotation,omitempty"`

	// Registration params
	FitnessScoreThreshold  *float64 `json:"fitness_score_threshold,omitempty"`
	MaxCorrespondenceRange *float64 `json:"max_correspondence_range,omitempty"`
	ICPMaxIterations       *int     `json:"icp_max_iterations,omitempty"`
	MinMatchedPoints       *int     `json:"min_matched_points,omitempty"`

	// Tracking params
	FailureCountThreshold *int `json:"failure_count_threshold,omitempty"`
	PoseHistoryLength     *int `json:"pose_history_length,omitempty"`

	// Local map params
	LocalMapKeyframeCount *int     `json:"local_map_keyframe_count,omitempty"`
	LocalMapVoxelLeafSize *float64 `json:"local_map_voxel_leaf_size,omitempty"`

	// Global search params
	INSSearchRadius            *float64 `json:"ins_search_radius,omitempty"`
	RelocalizeSearchRadius     *float64 `json:"relocalize_search_radius,omitempty"`
	GlobalSearchLinearStep     *float64 `json:"global_search_linear_step,omitempty"`
	GlobalSearchYawStepDegrees *float64 `json:"global_search_yaw_step_degrees,omitempty"`
	GlobalSearchKeyframeCount  *int     `json:"global_search_keyframe_count,omitempty"`
	ScanVoxelLeafSize          *float64 `json:"scan_voxel_leaf_size,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.AdaptiveGain != nil && *c.AdaptiveGain <= 0 {
		return fmt.Errorf("adaptive_gain must be positive, got %f", *c.AdaptiveGain)
	}
	if c.FitnessScoreThreshold != nil && *c.FitnessScoreThreshold <= 0 {
		return fmt.Errorf("fitness_score_threshold must be positive, got %f", *c.FitnessScoreThreshold)
	}
	if c.MaxCorrespondenceRange != nil && *c.MaxCorrespondenceRange <= 0 {
		return fmt.Errorf("max_correspondence_range must be positive, got %f", *c.MaxCorrespondenceRange)
	}
	if c.MinStddevTranslation != nil && c.MaxStddevTranslation != nil &&
		*c.MinStddevTranslation > *c.MaxStddevTranslation {
		return fmt.Errorf("min_stddev_translation %f exceeds max_stddev_translation %f",
			*c.MinStddevTranslation, *c.MaxStddevTranslation)
	}
	if c.MinStddevRotation != nil && c.MaxStddevRotation != nil &&
		*c.MinStddevRotation > *c.MaxStddevRotation {
		return fmt.Errorf("min_stddev_rotation %f exceeds max_stddev_rotation %f",
			*c.MinStddevRotation, *c.MaxStddevRotation)
	}
	if c.FailureCountThreshold != nil && *c.FailureCountThreshold < 1 {
		return fmt.Errorf("failure_count_threshold must be at least 1, got %d", *c.FailureCountThreshold)
	}
	if c.LocalMapKeyframeCount != nil && *c.LocalMapKeyframeCount < 1 {
		return fmt.Errorf("local_map_keyframe_count must be at least 1, got %d", *c.LocalMapKeyframeCount)
	}
	if c.LocalMapVoxelLeafSize != nil && *c.LocalMapVoxelLeafSize < 0 {
		return fmt.Errorf("local_map_voxel_leaf_size must be non-negative, got %f", *c.LocalMapVoxelLeafSize)
	}
	if c.PoseHistoryLength != nil && *c.PoseHistoryLength < 1 {
		return fmt.Errorf("pose_history_length must be at least 1, got %d", *c.PoseHistoryLength)
	}
	if c.GlobalSearchLinearStep != nil && *c.GlobalSearchLinearStep <= 0 {
		return fmt.Errorf("global_search_linear_step must be positive, got %f", *c.GlobalSearchLinearStep)
	}
	if c.GlobalSearchYawStepDegrees != nil && *c.GlobalSearchYawStepDegrees <= 0 {
		return fmt.Errorf("global_search_yaw_step_degrees must be positive, got %f", *c.GlobalSearchYawStepDegrees)
	}
	return nil
}

// GetUseConstInformationMatrix returns the use_const_information_matrix value or the default.
func (c *TuningConfig) GetUseConstInformationMatrix() bool {
	if c.UseConstInformationMatrix == nil {
		return false // default: adaptive matrices
	}
	return *c.UseConstInformationMatrix
}

// GetConstStddevTranslation returns the const_stddev_translation value or the default.
func (c *TuningConfig) GetConstStddevTranslation() float64 {
	if c.ConstStddevTranslation == nil {
		return 0.5
	}
	return *c.ConstStddevTranslation
}

// GetConstStddevRotation returns the const_stddev_rotation value or the default.
func (c *TuningConfig) GetConstStddevRotation() float64 {
	if c.ConstStddevRotation == nil {
		return 0.1
	}
	return *c.ConstStddevRotation
}

// GetAdaptiveGain returns the adaptive_gain value or the default.
func (c *TuningConfig) GetAdaptiveGain() float64 {
	if c.AdaptiveGain == nil {
		return 20.0
	}
	return *c.AdaptiveGain
}

// GetMinStddevTranslation returns the min_stddev_translation value or the default.
func (c *TuningConfig) GetMinStddevTranslation() float64 {
	if c.MinStddevTranslation == nil {
		return 0.1
	}
	return *c.MinStddevTranslation
}

// GetMaxStddevTranslation returns the max_stddev_translation value or the default.
func (c *TuningConfig) GetMaxStddevTranslation() float64 {
	if c.MaxStddevTranslation == nil {
		return 5.0
	}
	return *c.MaxStddevTranslation
}

// GetMinStddevRotation returns the min_stddev_rotation value or the default.
func (c *TuningConfig) GetMinStddevRotation() float64 {
	if c.MinStddevRotation == nil {
		return 0.05
	}
	return *c.MinStddevRotation
}

// GetMaxStddevRotation returns the max_stddev_rotation value or the default.
func (c *TuningConfig) GetMaxStddevRotation() float64 {
	if c.MaxStddevRotation == nil {
		return 0.2
	}
	return *c.MaxStddevRotation
}

// GetFitnessScoreThreshold returns the fitness_score_threshold value or the default.
func (c *TuningConfig) GetFitnessScoreThreshold() float64 {
	if c.FitnessScoreThreshold == nil {
		return 0.5
	}
	return *c.FitnessScoreThreshold
}

// GetMaxCorrespondenceRange returns the max_correspondence_range value or the default.
func (c *TuningConfig) GetMaxCorrespondenceRange() float64 {
	if c.MaxCorrespondenceRange == nil {
		return 2.0
	}
	return *c.MaxCorrespondenceRange
}

// GetICPMaxIterations returns the icp_max_iterations value or the default.
func (c *TuningConfig) GetICPMaxIterations() int {
	if c.ICPMaxIterations == nil {
		return 30
	}
	return *c.ICPMaxIterations
}

// GetMinMatchedPoints returns the min_matched_points value or the default.
func (c *TuningConfig) GetMinMatchedPoints() int {
	if c.MinMatchedPoints == nil {
		return 10
	}
	return *c.MinMatchedPoints
}

// GetFailureCountThreshold returns the failure_count_threshold value or the default.
func (c *TuningConfig) GetFailureCountThreshold() int {
	if c.FailureCountThreshold == nil {
		return 3
	}
	return *c.FailureCountThreshold
}

// GetPoseHistoryLength returns the pose_history_length value or the default.
func (c *TuningConfig) GetPoseHistoryLength() int {
	if c.PoseHistoryLength == nil {
		return 128
	}
	return *c.PoseHistoryLength
}

// GetLocalMapKeyframeCount returns the local_map_keyframe_count value or the default.
func (c *TuningConfig) GetLocalMapKeyframeCount() int {
	if c.LocalMapKeyframeCount == nil {
		return 10
	}
	return *c.LocalMapKeyframeCount
}

// GetLocalMapVoxelLeafSize returns the local_map_voxel_leaf_size value or the default.
func (c *TuningConfig) GetLocalMapVoxelLeafSize() float64 {
	if c.LocalMapVoxelLeafSize == nil {
		return 0.5
	}
	return *c.LocalMapVoxelLeafSize
}

// GetINSSearchRadius returns the ins_search_radius value or the default.
func (c *TuningConfig) GetINSSearchRadius() float64 {
	if c.INSSearchRadius == nil {
		return 10.0
	}
	return *c.INSSearchRadius
}

// GetRelocalizeSearchRadius returns the relocalize_search_radius value or the default.
func (c *TuningConfig) GetRelocalizeSearchRadius() float64 {
	if c.RelocalizeSearchRadius == nil {
		return 20.0
	}
	return *c.RelocalizeSearchRadius
}

// GetGlobalSearchLinearStep returns the global_search_linear_step value or the default.
func (c *TuningConfig) GetGlobalSearchLinearStep() float64 {
	if c.GlobalSearchLinearStep == nil {
		return 2.0
	}
	return *c.GlobalSearchLinearStep
}

// GetGlobalSearchYawStepDegrees returns the global_search_yaw_step_degrees value or the default.
func (c *TuningConfig) GetGlobalSearchYawStepDegrees() float64 {
	if c.GlobalSearchYawStepDegrees == nil {
		return 15.0
	}
	return *c.GlobalSearchYawStepDegrees
}

// GetGlobalSearchKeyframeCount returns the global_search_keyframe_count value or the default.
func (c *TuningConfig) GetGlobalSearchKeyframeCount() int {
	if c.GlobalSearchKeyframeCount == nil {
		return 10
	}
	return *c.GlobalSearchKeyframeCount
}

// GetScanVoxelLeafSize returns the scan_voxel_leaf_size value or the default.
func (c *TuningConfig) GetScanVoxelLeafSize() float64 {
	if c.ScanVoxelLeafSize == nil {
		return 1.0
	}
	return *c.ScanVoxelLeafSize
}
