package models

// ModelInfo describes a selectable forecasting model.
type ModelInfo struct {
	ID          ModelID `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
}

// TransformInfo describes a selectable input transform.
type TransformInfo struct {
	ID          Transform `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

func ModelCatalog() []ModelInfo {
	return []ModelInfo{
		{ID: ModelLSTM, Name: "LSTM", Description: "Long Short-Term Memory network for sequence modeling"},
		{ID: ModelCNNLSTM, Name: "CNN-LSTM", Description: "Convolutional + LSTM hybrid for feature extraction and sequence modeling"},
		{ID: ModelTransformer, Name: "Transformer", Description: "Attention-based architecture for modeling complex dependencies"},
	}
}

func TransformCatalog() []TransformInfo {
	return []TransformInfo{
		{ID: TransformDCT, Name: "DCT", Description: "Discrete Cosine Transform"},
		{ID: TransformDWT, Name: "DWT", Description: "Discrete Wavelet Transform"},
		{ID: TransformCS, Name: "CS", Description: "Compressed Sensing"},
		{ID: TransformNone, Name: "None", Description: "No transformation"},
	}
}
