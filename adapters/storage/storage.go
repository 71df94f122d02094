package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MediaStore 負責 NFT 媒體檔案的上傳與公開網址的生成
type MediaStore struct {
	// Client 是 S3 客戶端。
	Client *s3.Client
	// Bucket 是 S3 存儲桶的名稱。
	Bucket string
	// PublicEndpoint 是 S3 存儲桶的公開 Endpoint。
	PublicEndpoint *url.URL
}

func NewMediaStore(client *s3.Client, bucket, publicBaseURL string) (*MediaStore, error) {
	const op = "NewMediaStore"
	publicEndpoint, err := url.Parse(publicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public base URL, err=%w", op, err)
	}
	return &MediaStore{Client: client, Bucket: bucket, PublicEndpoint: publicEndpoint}, nil
}

// Upload 將媒體內容上傳到指定路徑，回傳可公開存取的網址
func (s *MediaStore) Upload(ctx context.Context, path, contentType string, content []byte) (string, error) {
	const op = "MediaStore.Upload"
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to upload media to S3, err=%w", op, err)
	}
	uri := *s.PublicEndpoint
	uri.Path = path
	return uri.String(), nil
}
