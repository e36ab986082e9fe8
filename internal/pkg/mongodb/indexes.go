package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"fable/internal/model/pipeline"
)

// EnsureIndexes 创建所有模型的索引
// 应用启动时的统一入口，模型实现 Model 接口即可在这里注册
func EnsureIndexes(db *mongo.Database) error {
	ctx := context.Background()

	models := []Model{
		&pipeline.GenerationJob{},
		&pipeline.SceneVideoSegment{},
		&pipeline.MergeOperation{},
	}

	return EnsureAllIndexes(ctx, db, models...)
}
