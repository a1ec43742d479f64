package service

import "zefa-sync/internal/model"

const welcomeText = "Olá! Eu sou o Zefa, seu assistente financeiro. " +
	"Me conte um gasto ou uma receita e eu registro para você."

var chatErrorMessages = map[model.ErrorCode]string{
	model.ErrTimeout:      "A resposta demorou demais. Tente novamente.",
	model.ErrNetwork:      "Sem conexão com o servidor. Verifique sua internet e tente de novo.",
	model.ErrUnauthorized: "Sua sessão expirou. Faça login novamente.",
	model.ErrServer:       "O servidor encontrou um problema. Tente de novo em instantes.",
	model.ErrClient:       "Não foi possível processar sua mensagem.",
	model.ErrUnknown:      "Algo deu errado. Tente novamente.",
}

// ChatErrorMessage returns the user-facing text for an error code.
func ChatErrorMessage(code model.ErrorCode) string {
	if msg, ok := chatErrorMessages[code]; ok {
		return msg
	}
	return chatErrorMessages[model.ErrUnknown]
}

const (
	noticeSynced       = "Transação atualizada."
	noticeNotFound     = "Esta transação não existe mais e foi removida da lista."
	noticeSavedLocally = "Alteração salva localmente. Vamos sincronizar assim que possível."
	noticeRejected     = "Transação não encontrada na lista atual."
	noticeInvalid      = "Dados inválidos. Revise valor, tipo e categoria."
)
